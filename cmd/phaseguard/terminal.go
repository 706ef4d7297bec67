package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/entrhq/phaseguard/pkg/browser"
	"github.com/entrhq/phaseguard/pkg/types"
)

// terminal reads answers from a line-oriented input. Reads honor ctx; a
// read abandoned by ctx finishes in the background.
type terminal struct {
	in  *bufio.Reader
	out io.Writer
}

func newTerminal(in io.Reader, out io.Writer) *terminal {
	return &terminal{in: bufio.NewReader(in), out: out}
}

// interactive reports whether r can answer prompts. Readers that are not
// files, such as test input, count as interactive.
func interactive(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return true
	}
	return term.IsTerminal(int(f.Fd()))
}

type lineResult struct {
	line string
	err  error
}

func (t *terminal) readLine(ctx context.Context) (string, error) {
	ch := make(chan lineResult, 1)
	go func() {
		line, err := t.in.ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		ch <- lineResult{line: strings.TrimSpace(line), err: err}
	}()

	select {
	case r := <-ch:
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// PromptForAuth asks the person at the terminal to log in within the
// browser window and press Enter.
func (t *terminal) PromptForAuth(ctx context.Context, prompt browser.AuthPrompt) (browser.AuthOutcome, error) {
	fmt.Fprintln(t.out, boxStyle.Render(headerStyle.Render("Login required")+"\n"+
		prompt.Message+"\n"+mutedStyle.Render(prompt.URL)))
	fmt.Fprint(t.out, labelStyle.Render("Press Enter once you are logged in, or type c to cancel: "))

	line, err := t.readLine(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return browser.AuthTimeout, err
		}
		return browser.AuthCancelled, err
	}
	if strings.EqualFold(line, "c") || strings.EqualFold(line, "cancel") {
		return browser.AuthCancelled, nil
	}
	return browser.AuthCompleted, nil
}

// askApproval shows an approval request and reads the reviewer's answer.
func (t *terminal) askApproval(ctx context.Context, req types.ApprovalRequest) (types.ApprovalResponse, error) {
	var b strings.Builder
	fmt.Fprintln(&b, headerStyle.Render(fmt.Sprintf("Review %s: %s", req.PhaseID, req.PhaseName)))
	if req.Summary != "" {
		fmt.Fprintln(&b, req.Summary)
	}
	fmt.Fprintln(&b, field("Created", joinOrNone(req.FilesCreated)))
	fmt.Fprintln(&b, field("Modified", joinOrNone(req.FilesModified)))
	verified := errorStyle.Render("failed")
	if req.VerificationPassed {
		verified = successStyle.Render("passed")
	}
	fmt.Fprintln(&b, field("Verification", verified))
	fmt.Fprintln(&b, field("Budget", fmt.Sprintf("%d/%d tokens (%s)", req.Budget.Used, req.Budget.Total, budgetBadge(req.Budget.Status))))
	fmt.Fprint(&b, field("Progress", fmt.Sprintf("%d/%d phases", req.Progress.Completed, req.Progress.Total)))
	if req.NextPhase != nil {
		fmt.Fprint(&b, "\n"+field("Next", req.NextPhase.Name))
	}
	fmt.Fprintln(t.out, boxStyle.Render(b.String()))

	for {
		fmt.Fprint(t.out, labelStyle.Render("[a]pprove, [r]eject or a[b]ort? "))
		answer, err := t.readLine(ctx)
		if err != nil {
			return types.ApprovalResponse{}, err
		}

		switch strings.ToLower(answer) {
		case "a", "approve", "y", "yes":
			return *types.NewApproval(""), nil
		case "r", "reject", "n", "no":
			fmt.Fprint(t.out, labelStyle.Render("Feedback for the next attempt: "))
			feedback, err := t.readLine(ctx)
			if err != nil {
				return types.ApprovalResponse{}, err
			}
			return *types.NewRejection(feedback), nil
		case "b", "abort":
			fmt.Fprint(t.out, labelStyle.Render("Reason: "))
			reason, err := t.readLine(ctx)
			if err != nil {
				return types.ApprovalResponse{}, err
			}
			return *types.NewAbort(reason), nil
		}
		fmt.Fprintln(t.out, warnStyle.Render("Please answer a, r or b."))
	}
}
