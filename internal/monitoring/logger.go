package monitoring

import "log"

// Logf is the diagnostic logger shared by the tracker, sweeper, recorder and
// serial ingest. It defaults to log.Printf; swap it with SetLogger to redirect
// or silence pass-lifecycle chatter (tests usually mute it).
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. A nil logger discards all output.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
