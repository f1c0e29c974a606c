package console

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"wiretest/sender"
	"wiretest/session"
	"wiretest/transport"
)

// App drives a session.Controller from the interactive prompts.
type App struct {
	Ctl     *session.Controller
	Prompt  *Prompter
	Printer *Printer

	// Role and Protocol preselect the first session; zero values are asked for.
	Role     session.Role
	Protocol transport.Protocol
}

// Run is the command loop. It returns nil when the operator exits, when
// input ends, or when a bind is abandoned.
func (a *App) Run(ctx context.Context) error {
	defer a.Ctl.Close()

	role, proto := a.Role, a.Protocol
	for {
		if role == session.RoleNone {
			r, err := a.Prompt.PromptRole()
			if err != nil {
				return a.finish(err)
			}
			role = r
		}
		if proto == "" {
			p, err := a.Prompt.PromptProtocol()
			if err != nil {
				return a.finish(err)
			}
			proto = p
		}

		if a.Ctl.State() == session.Uninitialized {
			if err := a.Ctl.Establish(ctx, role, proto); err != nil {
				if stop := a.setupFailed(ctx, err); stop {
					return a.finish(err)
				}
				continue
			}
		}

		next, err := a.menu(ctx)
		if err != nil {
			return a.finish(err)
		}
		if next == CmdExit {
			return nil
		}
		role, proto = a.Ctl.Role(), a.Ctl.Protocol()
	}
}

// setupFailed decides whether a failed Establish ends the program.
// Connect failures go back to setup, like a fresh start of the role.
func (a *App) setupFailed(ctx context.Context, err error) bool {
	switch {
	case errors.Is(err, session.ErrAborted):
		a.Printer.Println("Exiting program.")
		return true
	case errors.Is(err, ErrInputClosed), ctx.Err() != nil:
		return true
	case errors.Is(err, session.ErrNoDiscovery):
		a.Printer.Println(err.Error())
	}
	zap.L().Debug("session setup failed", zap.Error(err))
	return false
}

// menu runs the main menu until the session has to be set up again or the
// operator exits.
func (a *App) menu(ctx context.Context) (Command, error) {
	for {
		cmd, err := a.Prompt.PromptMenuChoice(a.Ctl.Role(), a.Ctl.Protocol())
		if err != nil {
			return CmdInvalid, err
		}
		switch cmd {
		case CmdData:
			if a.Ctl.Role() == session.RoleReceiver {
				if err := a.Prompt.WaitEnter(); err != nil {
					return CmdInvalid, err
				}
				continue
			}
			if err := a.sendData(ctx); err != nil {
				if errors.Is(err, sender.ErrSessionBroken) {
					return CmdData, nil
				}
				return CmdInvalid, err
			}
		case CmdSwitchRole:
			if err := a.Ctl.SwitchRole(ctx); err != nil {
				return cmd, a.switchFailed(ctx, err)
			}
		case CmdSwitchProtocol:
			if err := a.Ctl.SwitchProtocol(ctx); err != nil {
				return cmd, a.switchFailed(ctx, err)
			}
		case CmdExit:
			err := a.Ctl.Close()
			a.Printer.Println("Program terminated.")
			return CmdExit, err
		default:
			a.Printer.Println("Invalid choice. Please try again.")
		}
		if a.Ctl.State() == session.Uninitialized {
			return cmd, nil
		}
	}
}

// switchFailed keeps the program going unless setup was abandoned.
func (a *App) switchFailed(ctx context.Context, err error) error {
	if a.setupFailed(ctx, err) {
		return err
	}
	return nil
}

// sendData is one visit to the data type menu. Errors other than input
// ending are reported per value and do not leave the menu.
func (a *App) sendData(ctx context.Context) error {
	kind, isRange, ok, err := a.Prompt.PromptDataType()
	if err != nil || !ok {
		return err
	}

	if isRange {
		a.Printer.Println("Sending integers 1-100...")
		results, err := a.Ctl.SendRange(ctx, 1, 100)
		if err != nil {
			return err
		}
		if failed := countFailed(results); failed == 0 {
			a.Printer.Printf("Sent all integers from 1 to 100 to %s\n", a.Ctl.Target())
		} else {
			a.Printer.Printf("%d of %d integers could not be sent.\n", failed, len(results))
		}
		return nil
	}

	for {
		tokens, quit, err := a.Prompt.PromptDataTypeAndValues(kind)
		if err != nil || quit {
			return err
		}
		if _, err := a.Ctl.Send(ctx, kind, tokens); err != nil {
			return err
		}
	}
}

func (a *App) finish(err error) error {
	switch {
	case errors.Is(err, ErrInputClosed), errors.Is(err, session.ErrAborted):
		return nil
	case errors.Is(err, context.Canceled):
		a.Printer.Println("Program terminated.")
		return nil
	}
	return err
}

func countFailed(results []sender.Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
