package metrics

import "testing"

// BenchmarkCollector_SessionOpen measures the overhead of recording a
// session open event.
func BenchmarkCollector_SessionOpen(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.SessionOpened()
	}
}

// BenchmarkCollector_Appended measures the labelled counter path hit on
// every packet.
func BenchmarkCollector_Appended(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Appended(SourceSession)
	}
}

// BenchmarkCollector_Snapshot measures the cost of taking a snapshot.
func BenchmarkCollector_Snapshot(b *testing.B) {
	c := New()
	c.SessionOpened()
	c.BytesSent(1024)
	c.LogFailure("append", "test")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Snapshot()
	}
}
