package config

import (
	"reflect"
	"testing"
)

func TestGetEnvWithFallback(t *testing.T) {
	t.Setenv("NADIA_ENVTEST_PRIMARY", "from-primary")
	t.Setenv("NADIA_ENVTEST_LEGACY", "from-legacy")

	if got := GetEnvWithFallback("NADIA_ENVTEST_PRIMARY", "NADIA_ENVTEST_LEGACY", "d"); got != "from-primary" {
		t.Errorf("primary set: got %q", got)
	}
	if got := GetEnvWithFallback("NADIA_ENVTEST_UNSET", "NADIA_ENVTEST_LEGACY", "d"); got != "from-legacy" {
		t.Errorf("primary unset: got %q", got)
	}
	if got := GetEnvWithFallback("NADIA_ENVTEST_UNSET", "NADIA_ENVTEST_ALSO_UNSET", "d"); got != "d" {
		t.Errorf("both unset: got %q", got)
	}
}

func TestTypedGettersKeepDefaultOnGarbage(t *testing.T) {
	t.Setenv("NADIA_ENVTEST_GARBAGE", "not a number")

	if got := GetEnvInt("NADIA_ENVTEST_GARBAGE", 7); got != 7 {
		t.Errorf("int: got %d", got)
	}
	if got := GetEnvFloat("NADIA_ENVTEST_GARBAGE", 0.5); got != 0.5 {
		t.Errorf("float: got %v", got)
	}
	if got := GetEnvBool("NADIA_ENVTEST_GARBAGE", true); !got {
		t.Error("bool: default lost")
	}
}

func TestTypedGettersParse(t *testing.T) {
	t.Setenv("NADIA_ENVTEST_INT", "42")
	t.Setenv("NADIA_ENVTEST_FLOAT", "0.25")
	t.Setenv("NADIA_ENVTEST_BOOL", "true")

	if got := GetEnvInt("NADIA_ENVTEST_INT", 0); got != 42 {
		t.Errorf("int: got %d", got)
	}
	if got := GetEnvFloat("NADIA_ENVTEST_FLOAT", 0); got != 0.25 {
		t.Errorf("float: got %v", got)
	}
	if got := GetEnvBool("NADIA_ENVTEST_BOOL", false); !got {
		t.Error("bool: not parsed")
	}
}

func TestGetEnvSlice(t *testing.T) {
	t.Setenv("NADIA_ENVTEST_SLICE", " a, ,b ,")

	got := GetEnvSlice("NADIA_ENVTEST_SLICE", nil)
	if want := []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got := GetEnvSlice("NADIA_ENVTEST_UNSET", []string{"x"}); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("unset: got %v", got)
	}
}
