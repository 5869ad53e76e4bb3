// Package notify sends the administrator an email when the daemon is
// about to shut the machine down, matching
// original_source/src/send-email.c: verify the sendmail binary exists
// and is executable before trying to run it (a missing binary means
// the write pipe closes before the message body can be written), then
// pipe a short message to it.
package notify

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
)

const defaultSendmail = "/usr/sbin/sendmail"

// Notifier sends the shutdown-warning email.
type Notifier struct {
	Admin        string
	SendmailPath string
	Hostname     func() (string, error)
}

// NewNotifier returns a Notifier. If admin is empty, Send is a no-op
// (matches send-email.c returning 0 when not configured for email).
func NewNotifier(admin string) *Notifier {
	return &Notifier{Admin: admin, SendmailPath: defaultSendmail, Hostname: os.Hostname}
}

// Send emails admin about the shutdown reason. tooHot selects the
// "too hot" message body; otherwise the numeric error code is
// reported. Returns nil if not configured (admin == "").
func (n *Notifier) Send(errorCode int, tooHot bool) error {
	if n.Admin == "" {
		return nil
	}

	path := n.SendmailPath
	if path == "" {
		path = defaultSendmail
	}
	info, err := os.Stat(path)
	if err != nil || info.Mode()&0111 == 0 {
		return fmt.Errorf("%s does not exist or is not executable: %w", path, err)
	}

	hostname := "localhost"
	if n.Hostname != nil {
		if h, err := n.Hostname(); err == nil {
			hostname = h
		}
	}

	var body bytes.Buffer
	fmt.Fprintf(&body, "To: %s\n", n.Admin)
	fmt.Fprintf(&body, "Subject: %s is going down!\n\n", hostname)
	if tooHot {
		fmt.Fprintf(&body, "Message from watchdog:\nIt is too hot to keep on working. The system will be halted!\n")
	} else {
		fmt.Fprintf(&body, "Message from watchdog:\nThe system will be rebooted because of error %d!\n", errorCode)
	}

	cmd := exec.Command(path, "-i", n.Admin)
	cmd.Stdin = &body
	return cmd.Run()
}
