package main

import (
	"fmt"
	"strings"

	"github.com/forgecore/agentcore/internal/bus"
	"github.com/forgecore/agentcore/internal/protocol"
)

// consolePrinter renders streaming agent output the way the teacher's
// startChat does: plain incremental text while a message streams, then the
// finalized markdown block as-is. Markdown rendering/styling is the TUI's
// job and is out of scope here (spec §1); the CLI collaborator prints the
// raw markdown text a renderer would otherwise style.
type consolePrinter struct {
	sb strings.Builder
}

func newConsolePrinter() *consolePrinter {
	return &consolePrinter{}
}

// runUntilComplete prints every event belonging to subID until its turn
// finishes, then returns.
func (p *consolePrinter) runUntilComplete(b *bus.Bus, subID string) error {
	for ev := range b.Events() {
		if ev.ID != subID {
			continue
		}
		p.handle(ev)
		if ev.Msg.Kind == protocol.MsgTaskComplete {
			return nil
		}
		if ev.Msg.Kind == protocol.MsgTurnAborted {
			return fmt.Errorf("turn aborted")
		}
	}
	return nil
}

func (p *consolePrinter) handle(ev protocol.Event) {
	switch ev.Msg.Kind {
	case protocol.MsgAgentMessageDelta:
		p.sb.WriteString(ev.Msg.Delta)
		fmt.Print(ev.Msg.Delta)

	case protocol.MsgAgentMessage:
		if p.sb.Len() == 0 {
			p.sb.WriteString(ev.Msg.Message)
		}
		p.flushMarkdown()

	case protocol.MsgExecCommandBegin:
		fmt.Printf("\n$ %s\n", strings.Join(ev.Msg.Command, " "))

	case protocol.MsgExecCommandOutputDelta:
		fmt.Print(string(ev.Msg.Chunk))

	case protocol.MsgExecCommandEnd:
		code := 0
		if ev.Msg.ExitCode != nil {
			code = *ev.Msg.ExitCode
		}
		fmt.Printf("[exit %d]\n", code)

	case protocol.MsgExecApprovalRequest:
		fmt.Printf("\napproval requested for: %s\n", strings.Join(ev.Msg.Command, " "))

	case protocol.MsgError:
		fmt.Printf("\nerror: %s\n", ev.Msg.ErrorMessage)

	case protocol.MsgTaskComplete:
		p.flushMarkdown()
		fmt.Println(strings.Repeat("─", 50))
	}
}

func (p *consolePrinter) flushMarkdown() {
	if p.sb.Len() == 0 {
		return
	}
	text := p.sb.String()
	p.sb.Reset()
	fmt.Println(text)
}
