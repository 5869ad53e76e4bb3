package notify

import "testing"

func TestSendNoOpWhenUnconfigured(t *testing.T) {
	n := NewNotifier("")
	if err := n.Send(250, false); err != nil {
		t.Errorf("expected no-op when admin unset, got %v", err)
	}
}

func TestSendErrorsOnMissingSendmail(t *testing.T) {
	n := NewNotifier("admin@example.com")
	n.SendmailPath = "/no/such/sendmail"
	if err := n.Send(250, false); err == nil {
		t.Error("expected error when sendmail binary is missing")
	}
}
