package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"cothink/cmd/cothink/ui"
	"cothink/internal/orchestrator"
)

const chatHelp = `Commands:
  /partner   switch to Partner mode (structured reasoning)
  /copilot   switch back to Copilot mode (direct answers)
  /memory    show what the agent remembers about you
  /reset     erase all long-term memory for this user
  /end       close the session and save a summary
  /help      show this help
  /exit      quit`

// runChat drives the interactive REPL for one user.
func runChat(a *app, user string) error {
	ctrl, err := a.registry.Get(user)
	if err != nil {
		return err
	}

	fmt.Println(ui.Banner(a.cfg.Name, a.cfg.Version))
	fmt.Println()
	fmt.Println(ui.AgentStyle.Render(ctrl.Greeting()))

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Printf("\n%s%s ",
			ui.ModeStyle.Render("["+string(ctrl.Mode())+"]"),
			ui.PromptStyle.Render(" you >"),
		)
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := handleCommand(ctrl, input); quit {
				return nil
			}
			continue
		}

		reply := ctrl.ProcessInput(context.Background(), input)
		fmt.Println()
		fmt.Println(ui.AgentStyle.Render(reply))
	}
}

// handleCommand executes one slash command; returns true on /exit.
func handleCommand(ctrl *orchestrator.Controller, input string) bool {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/exit", "/quit":
		fmt.Println(ui.HintStyle.Render("bye"))
		return true

	case "/help":
		fmt.Println(ui.HintStyle.Render(chatHelp))

	case "/partner":
		ctrl.SwitchMode(orchestrator.ModePartner)
		fmt.Println(ui.AgentStyle.Render(ctrl.ProcessInput(context.Background(), "")))

	case "/copilot":
		ctrl.SwitchMode(orchestrator.ModeCopilot)
		fmt.Println(ui.HintStyle.Render("back to Copilot mode"))

	case "/memory":
		fmt.Println(ui.AgentStyle.Render(ctrl.ProfileSummary()))

	case "/reset":
		if err := ctrl.ResetAllMemory(); err != nil {
			fmt.Println(ui.ErrorStyle.Render("reset failed: " + err.Error()))
		} else {
			fmt.Println(ui.HintStyle.Render("all long-term memory erased"))
		}

	case "/end":
		fmt.Println(ui.AgentStyle.Render(ctrl.EndSession(context.Background())))

	default:
		fmt.Println(ui.ErrorStyle.Render("unknown command " + input))
		fmt.Println(ui.HintStyle.Render(chatHelp))
	}
	return false
}
