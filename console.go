package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"whistle/phone"
)

// callControl is the part of phone.Controller the console drives.
type callControl interface {
	Dial(target string, opts phone.DialOptions) bool
	Answer() bool
	Hangup() bool
	SendDTMF(digit string) bool
	SetMute(mute bool) bool
	SetHold(hold bool) bool
	SendInfo(contentType, body string) bool
	State() phone.CallState
	Connectivity() phone.ConnectivityState
	Stop()
}

const consoleHelp = `commands:
  dial <target> [Name:value]...
  answer
  hangup
  dtmf <digit>
  mute on|off
  hold on|off
  info <content-type> <body>
  state
  quit`

type command struct {
	name string
	args []string
	rest string
}

// parseCommand splits a console line into the command word, its arguments
// and the raw text after the first argument.
func parseCommand(line string) (command, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, false
	}
	cmd := command{name: strings.ToLower(fields[0]), args: fields[1:]}
	if len(cmd.args) > 1 {
		after := strings.TrimSpace(line[strings.Index(line, fields[0])+len(fields[0]):])
		after = strings.TrimSpace(after[len(cmd.args[0]):])
		cmd.rest = after
	}
	return cmd, true
}

// console reads commands from in and reports on out.
type console struct {
	ctrl callControl
	in   io.Reader
	out  io.Writer
	log  *logrus.Entry
}

func newConsole(ctrl callControl, in io.Reader, out io.Writer, log *logrus.Entry) *console {
	return &console{ctrl: ctrl, in: in, out: out, log: log}
}

// run serves commands until quit, end of input or ctx is done. It stops the
// controller on the way out.
func (c *console) run(ctx context.Context) {
	defer c.ctrl.Stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.log.Warnf("console input: %v", err)
		}
	}()

	fmt.Fprintln(c.out, `type "help" for commands`)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !c.execute(line) {
				return
			}
		}
	}
}

// execute runs one line and reports whether the console keeps going.
func (c *console) execute(line string) bool {
	cmd, ok := parseCommand(line)
	if !ok {
		return true
	}
	c.log.Debugf("console command %q", line)

	switch cmd.name {
	case "quit", "exit":
		return false
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
	case "state":
		fmt.Fprintf(c.out, "call %s, connectivity %s\n", c.ctrl.State(), c.ctrl.Connectivity())
	case "dial":
		if len(cmd.args) < 1 {
			fmt.Fprintln(c.out, "usage: dial <target> [Name:value]...")
			return true
		}
		opts := phone.DialOptions{}
		for _, h := range cmd.args[1:] {
			name, value, found := strings.Cut(h, ":")
			if !found || name == "" {
				fmt.Fprintf(c.out, "bad header %q, want Name:value\n", h)
				return true
			}
			opts.ExtraHeaders = append(opts.ExtraHeaders, name+": "+value)
		}
		c.report("dial", c.ctrl.Dial(cmd.args[0], opts))
	case "answer":
		c.report("answer", c.ctrl.Answer())
	case "hangup":
		c.report("hangup", c.ctrl.Hangup())
	case "dtmf":
		if len(cmd.args) != 1 {
			fmt.Fprintln(c.out, "usage: dtmf <digit>")
			return true
		}
		c.report("dtmf", c.ctrl.SendDTMF(cmd.args[0]))
	case "mute", "hold":
		on, valid := onOff(cmd.args)
		if !valid {
			fmt.Fprintf(c.out, "usage: %s on|off\n", cmd.name)
			return true
		}
		if cmd.name == "mute" {
			c.report("mute", c.ctrl.SetMute(on))
		} else {
			c.report("hold", c.ctrl.SetHold(on))
		}
	case "info":
		if len(cmd.args) < 2 {
			fmt.Fprintln(c.out, "usage: info <content-type> <body>")
			return true
		}
		c.report("info", c.ctrl.SendInfo(cmd.args[0], cmd.rest))
	default:
		fmt.Fprintf(c.out, "unknown command %q\n", cmd.name)
	}
	return true
}

func (c *console) report(op string, ok bool) {
	if ok {
		fmt.Fprintf(c.out, "%s: ok\n", op)
		return
	}
	fmt.Fprintf(c.out, "%s: rejected in state %s\n", op, c.ctrl.State())
}

func onOff(args []string) (on, valid bool) {
	if len(args) != 1 {
		return false, false
	}
	switch strings.ToLower(args[0]) {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	return false, false
}

// notifier prints controller notifications. It runs on the controller
// goroutine, so auto answer is handed to a new goroutine.
type notifier struct {
	out        io.Writer
	log        *logrus.Entry
	autoAnswer func() bool
}

var _ phone.Handler = (*notifier)(nil)

func (n *notifier) Registered()    { n.print("registered") }
func (n *notifier) Unregistered()  { n.print("unregistered") }
func (n *notifier) CallRinging()   { n.print("ringing") }
func (n *notifier) CallConnected() { n.print("call connected") }
func (n *notifier) CallFailed()    { n.print("call failed") }
func (n *notifier) CallEnded()     { n.print("call ended") }

func (n *notifier) IncomingCall(uri, displayName string) {
	if displayName != "" {
		n.print(fmt.Sprintf("incoming call from %s <%s>", displayName, uri))
	} else {
		n.print("incoming call from " + uri)
	}
	if n.autoAnswer != nil {
		go func() {
			if !n.autoAnswer() {
				n.log.Warn("auto answer rejected")
			}
		}()
	}
}

func (n *notifier) ConnectivityUpdate(state phone.ConnectivityState) {
	n.print("connectivity " + state.String())
}

func (n *notifier) Info(msg phone.InfoMessage) {
	n.print(fmt.Sprintf("info %s: %s", msg.ContentType, msg.Body))
}

// print writes msg to the console and keeps a debug copy in the log.
func (n *notifier) print(msg string) {
	n.log.Debug(msg)
	fmt.Fprintf(n.out, "* %s\n", msg)
}
