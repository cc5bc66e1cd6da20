package util

import (
	"testing"
	"time"
)

func TestGetEnvGetters(t *testing.T) {
	t.Setenv("WR_TEST_STRING", "value")
	t.Setenv("WR_TEST_EMPTY", "")
	t.Setenv("WR_TEST_INT", "12")
	t.Setenv("WR_TEST_BAD_INT", "twelve")
	t.Setenv("WR_TEST_DURATION", "750ms")
	t.Setenv("WR_TEST_BOOL", "true")
	t.Setenv("WR_TEST_BAD_BOOL", "yes")

	if got := GetEnvString("WR_TEST_STRING", "x"); got != "value" {
		t.Fatalf("GetEnvString() = %q", got)
	}
	if got := GetEnvString("WR_TEST_EMPTY", "fallback"); got != "fallback" {
		t.Fatalf("GetEnvString() for empty value = %q", got)
	}
	if got := GetEnvInt("WR_TEST_INT", 3); got != 12 {
		t.Fatalf("GetEnvInt() = %d", got)
	}
	if got := GetEnvInt("WR_TEST_BAD_INT", 3); got != 3 {
		t.Fatalf("GetEnvInt() for invalid value = %d", got)
	}
	if got := GetEnvDuration("WR_TEST_DURATION", time.Second); got != 750*time.Millisecond {
		t.Fatalf("GetEnvDuration() = %s", got)
	}
	if got := GetEnvDuration("WR_TEST_UNSET", time.Second); got != time.Second {
		t.Fatalf("GetEnvDuration() for unset value = %s", got)
	}
	if !GetEnvBool("WR_TEST_BOOL", false) {
		t.Fatalf("GetEnvBool() = false")
	}
	if GetEnvBool("WR_TEST_BAD_BOOL", false) {
		t.Fatalf("GetEnvBool() accepted %q", "yes")
	}
}
