package logging

import "testing"

func TestRedact(t *testing.T) {
	cases := []struct {
		in, want string
		changed  bool
	}{
		{"iris://trigger-call?url=ws://gw:49190?token=abc-_123", "iris://trigger-call?url=ws://gw:49190?token=[REDACTED]", true},
		{"wss://gw/call?token=abc&v=2", "wss://gw/call?token=[REDACTED]&v=2", true},
		{"postgres://iris:s3cret@db:5432/iris", "postgres://iris:[REDACTED]@db:5432/iris", true},
		{"redis://cache:6379/0", "redis://cache:6379/0", false},
	}
	for _, tc := range cases {
		got, changed := Redact(tc.in)
		if got != tc.want || changed != tc.changed {
			t.Fatalf("Redact(%q) = %q, %v; want %q, %v", tc.in, got, changed, tc.want, tc.changed)
		}
	}
}
