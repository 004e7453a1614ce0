// Package listener owns the interactive terminal: a readline prompt that
// background missions can print above without clobbering what the user is
// typing.
package listener

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chzyer/readline"
)

var (
	rl        *readline.Instance
	mu        sync.Mutex
	holding   bool
	heldLines []string
)

// ErrClosed is returned by ReadLine when the terminal input ends.
var ErrClosed = errors.New("terminal input closed")

func Init(prompt string) error {
	var err error
	rl, err = readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "",
		EOFPrompt:       "",
	})
	return err
}

func Close() {
	if rl != nil {
		_ = rl.Close()
	}
}

// ReadLine blocks for the next line of user input.
func ReadLine() (string, error) {
	line, err := rl.Readline()
	if err != nil {
		return "", ErrClosed
	}
	return strings.TrimSpace(line), nil
}

// Println prints a line above the prompt. Safe to call from mission
// goroutines; during a confirmation dialog output is held back and flushed
// afterwards.
func Println(s string) {
	mu.Lock()
	defer mu.Unlock()
	if holding {
		heldLines = append(heldLines, s)
		return
	}
	writeAbove(s)
}

func Printf(format string, args ...any) {
	Println(fmt.Sprintf(format, args...))
}

func writeAbove(s string) {
	if rl == nil {
		fmt.Println(s)
		return
	}
	_, _ = rl.Write([]byte("\r\n" + s + "\r\n"))
	rl.Refresh()
}

// AskYesNo shows a question and blocks for a y/n answer. Asynchronous output
// is held until the dialog ends.
func AskYesNo(question string) bool {
	mu.Lock()
	holding = true
	writeAbove(question + " [y/n]")
	old := rl.Config.Prompt
	rl.SetPrompt("confirm> ")
	mu.Unlock()

	defer func() {
		mu.Lock()
		rl.SetPrompt(old)
		holding = false
		for _, s := range heldLines {
			writeAbove(s)
		}
		heldLines = nil
		mu.Unlock()
	}()

	for {
		line, err := rl.Readline()
		if err != nil {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
		mu.Lock()
		writeAbove("Please answer y or n.")
		mu.Unlock()
	}
}
