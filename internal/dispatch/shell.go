package dispatch

import (
	"context"
	"fmt"

	"github.com/forgecore/agentcore/internal/protocol"
	"github.com/forgecore/agentcore/internal/sandbox"
)

func (d *Dispatcher) dispatchShell(ctx context.Context, call Call, emit Emitter) (string, error) {
	if d.Cache.Approved(call.Command) {
		return d.runShellNow(ctx, call, emit)
	}

	raw := rawCommand(call.Command)
	guardOK, match := sandbox.CheckConfirmGuard(raw)
	if !guardOK {
		if d.Policy == PolicyNever {
			// Never ask; the guard's objection becomes an ordinary tool
			// failure the model sees on the next turn.
			return fmt.Sprintf("command refused by guard (%s): %s", match.Pattern, match.Message), nil
		}
		emit.Emit(protocol.EventMsg{
			Kind:    protocol.MsgExecApprovalRequest,
			CallID:  call.CallID,
			Command: call.Command,
			Reason:  match.Message,
		})
		return "", ErrAwaitingApproval
	}
	call.Command = stripGuardPrefix(call.Command)

	switch d.Policy {
	case PolicyUnlessTrusted:
		if d.isTrusted(call.Command) {
			return d.runShellNow(ctx, call, emit)
		}
		emit.Emit(protocol.EventMsg{
			Kind:    protocol.MsgExecApprovalRequest,
			CallID:  call.CallID,
			Command: call.Command,
			Reason:  "command requires approval under the current policy",
		})
		return "", ErrAwaitingApproval

	case PolicyOnFailure:
		out, err := d.runShellNow(ctx, call, emit)
		return out, err

	case PolicyOnRequest, PolicyNever:
		return d.runShellNow(ctx, call, emit)

	default:
		return d.runShellNow(ctx, call, emit)
	}
}

func stripGuardPrefix(command []string) []string {
	if len(command) == 0 {
		return command
	}
	stripped := make([]string, len(command))
	copy(stripped, command)
	stripped[0] = sandbox.StripConfirmPrefix(stripped[0])
	return stripped
}

func (d *Dispatcher) runShellNow(ctx context.Context, call Call, emit Emitter) (string, error) {
	emit.Emit(protocol.EventMsg{
		Kind:       protocol.MsgExecCommandBegin,
		CallID:     call.CallID,
		Command:    call.Command,
		WorkingDir: call.Cwd,
	})

	chunks := make(chan sandbox.Chunk, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for c := range chunks {
			emit.Emit(protocol.EventMsg{
				Kind:   protocol.MsgExecCommandOutputDelta,
				CallID: call.CallID,
				Stream: string(c.Stream),
				Chunk:  c.Bytes,
			})
		}
	}()

	req := sandbox.Request{
		CallID:  call.CallID,
		Command: call.Command,
		Cwd:     call.Cwd,
		Env:     call.Env,
		Stdin:   call.Stdin,
		Profile: d.Profile,
		Timeout: call.Timeout,
	}
	res, err := sandbox.Run(ctx, req, chunks)
	close(chunks)
	<-done

	if err != nil {
		emit.Emit(protocol.EventMsg{
			Kind:         protocol.MsgError,
			CallID:       call.CallID,
			ErrorMessage: err.Error(),
		})
		return "", err
	}

	exitCode := res.ExitCode
	emit.Emit(protocol.EventMsg{
		Kind:       protocol.MsgExecCommandEnd,
		CallID:     call.CallID,
		ExitCode:   &exitCode,
		DurationMs: res.Duration.Milliseconds(),
		Stdout:     res.StdoutTail,
		Stderr:     res.StderrTail,
	})

	if exitCode != 0 && d.Policy == PolicyOnFailure {
		emit.Emit(protocol.EventMsg{
			Kind:    protocol.MsgExecApprovalRequest,
			CallID:  call.CallID,
			Command: call.Command,
			Reason:  "command failed sandboxed; approve to retry without the sandbox",
		})
	}

	return summarizeResult(res), nil
}

func summarizeResult(res *sandbox.Result) string {
	if res.ExitCode == 0 {
		return res.StdoutTail
	}
	return fmt.Sprintf("exit code %d after %v\nstdout:\n%s\nstderr:\n%s", res.ExitCode, res.Duration, res.StdoutTail, res.StderrTail)
}
