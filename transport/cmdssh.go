package transport

import (
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/nanoncore/notch/apierrors"
)

// CmdlineSSH drives an external `ssh` binary as a subprocess, the way
// newtlab's ssh command execs into one — except here the process is kept
// as a pipe-driven child instead of replacing the current process, so its
// stdin/stdout can be expect-scanned like any other Transport. This is
// the fallback for devices whose SSHv1-only servers golang.org/x/crypto/ssh
// refuses to negotiate with, per spec.md §4.1.
type CmdlineSSH struct {
	cmd *exec.Cmd
	in  io.WriteCloser
	rd  *genericExpectReader
}

func NewCmdlineSSH() *CmdlineSSH {
	return &CmdlineSSH{}
}

func (t *CmdlineSSH) Connect(address string, port int, cred Credential, connectTimeout time.Duration) error {
	sshBin, err := exec.LookPath("ssh")
	if err != nil {
		return apierrors.Connectf("ssh binary not found in PATH: %v", err)
	}

	args := []string{
		"-tt",
		"-1",
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "LogLevel=ERROR",
		"-p", strconv.Itoa(port),
	}
	if keyPath := cred.GetSSHPrivateKeyPath(); keyPath != "" {
		args = append(args, "-i", keyPath, "-o", "PasswordAuthentication=no")
	}
	args = append(args, fmt.Sprintf("%s@%s", cred.GetUsername(), address))

	cmd := exec.Command(sshBin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return apierrors.Connectf("allocating stdin pipe for ssh subprocess: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apierrors.Connectf("allocating stdout pipe for ssh subprocess: %v", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return apierrors.Connectf("spawning ssh subprocess to %s: %v", address, err)
	}

	t.cmd = cmd
	t.in = stdin
	t.rd = newGenericExpectReader(stdout)

	// If no key was offered, the subprocess will prompt for a password on
	// its pty; answer it the same way an interactive user would.
	if cred.GetSSHPrivateKeyPath() == "" {
		passwordPrompt := regexp.MustCompile(`(?i)password:\s*$`)
		if _, _, _, _, err := t.rd.Expect([]*regexp.Regexp{passwordPrompt}, connectTimeout); err != nil {
			t.Disconnect()
			return apierrors.Connectf("waiting for password prompt from ssh subprocess: %v", err)
		}
		if err := t.Write([]byte(cred.GetPassword() + "\n")); err != nil {
			t.Disconnect()
			return err
		}
	}

	return nil
}

func (t *CmdlineSSH) Write(data []byte) error {
	if t.in == nil {
		return apierrors.Commandf(false, "cmdline ssh write on unconnected transport")
	}
	if _, err := t.in.Write(data); err != nil {
		return apierrors.Commandf(true, "cmdline ssh write failed: %v", err)
	}
	return nil
}

func (t *CmdlineSSH) Expect(patterns []*regexp.Regexp, timeout time.Duration) (int, []byte, []byte, []byte, error) {
	return t.rd.Expect(patterns, timeout)
}

func (t *CmdlineSSH) Disconnect() error {
	if t.in != nil {
		t.in.Close()
	}
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	t.cmd.Process.Kill()
	return t.cmd.Wait()
}
