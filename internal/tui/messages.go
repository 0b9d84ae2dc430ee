package tui

import (
	"time"

	"catsearch/internal/engine"
)

// BubbleTea message types produced by asynchronous search commands

// SearchDoneMsg delivers the outcome of a search. Seq correlates the
// message with the keystroke that started it so stale responses from a
// superseded search are dropped.
type SearchDoneMsg struct {
	Seq     int
	Query   string
	Results []engine.Result
	Took    time.Duration
	Err     error
}

// RecommendDoneMsg delivers the generated ranking analysis for the most
// recent search.
type RecommendDoneMsg struct {
	Seq  int
	Text string
	Err  error
}
