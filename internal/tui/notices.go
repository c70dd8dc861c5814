// SPDX-License-Identifier: MIT
package tui

import (
	"strings"
)

type noticeLevel int

const (
	noticeInfo noticeLevel = iota
	noticeWarn
	noticeError
)

// maxNotices bounds the stack; the oldest notice goes first.
const maxNotices = 4

type notice struct {
	id    int
	level noticeLevel
	text  string
}

// notices is a stack of user-facing messages dismissed newest first.
type notices struct {
	items  []notice
	nextID int
}

func (n *notices) push(level noticeLevel, text string) int {
	n.nextID++
	n.items = append(n.items, notice{id: n.nextID, level: level, text: text})
	if len(n.items) > maxNotices {
		n.items = n.items[len(n.items)-maxNotices:]
	}
	return n.nextID
}

// dismiss removes the newest notice and reports whether there was one.
func (n *notices) dismiss() bool {
	if len(n.items) == 0 {
		return false
	}
	n.items = n.items[:len(n.items)-1]
	return true
}

func (n *notices) len() int { return len(n.items) }

func (n *notices) view(width int) string {
	if len(n.items) == 0 {
		return ""
	}
	lines := make([]string, 0, len(n.items))
	for i := len(n.items) - 1; i >= 0; i-- {
		it := n.items[i]
		prefix := "•"
		switch it.level {
		case noticeWarn:
			prefix = "!"
		case noticeError:
			prefix = "✖"
		}
		line := prefix + " " + it.text
		if width > 4 && len([]rune(line)) > width {
			line = string([]rune(line)[:width-1]) + "…"
		}
		lines = append(lines, noticeStyles[it.level].Render(line))
	}
	return strings.Join(lines, "\n")
}
