package classify

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		code Code
		want Category
	}{
		{OK, CategoryOK},
		{DontKnow, CategoryDontKnow},
		{ErrReboot, CategoryUnconditional},
		{ErrHardReset, CategoryUnconditional},
		{ErrMaxLoad, CategoryDoomed},
		{ErrTooHot, CategoryDoomed},
		{ErrInvalidMeminfo, CategoryDoomed},
		{ErrNoChange, CategoryRepairable},
		{ErrChildTooLong, CategoryRepairable},
		{Code(7), CategoryRepairable},
	}
	for _, c := range cases {
		if got := Classify(c.code); got != c.want {
			t.Errorf("Classify(%d) = %s, want %s", c.code, got, c.want)
		}
	}
}

func TestIsDoomed(t *testing.T) {
	if !IsDoomed(ErrTooHot) {
		t.Error("ErrTooHot should be doomed")
	}
	if IsDoomed(ErrNoChange) {
		t.Error("ErrNoChange should not be doomed")
	}
	if IsDoomed(ErrReboot) {
		t.Error("ErrReboot is unconditional, not doomed")
	}
}

func TestIsHardReset(t *testing.T) {
	if !IsHardReset(ErrHardReset) {
		t.Error("ErrHardReset should report hard reset")
	}
	if IsHardReset(ErrReboot) {
		t.Error("ErrReboot is not a hard reset")
	}
}
