package dispatch

import (
	"strings"

	"github.com/partarstu/agentic-qa-framework/internal/model"
)

// firstTextAndLogs interprets a completed task's artifacts: the first
// text part (by convention) is the
// workflow-specific JSON payload; any file part whose name contains
// "log" (case-insensitive) with a .txt/.log suffix is the agent's
// execution log, decoded and returned separately; every other file
// part is preserved for re-attachment on downstream dispatches.
func firstTextAndLogs(artifacts []model.Artifact) (text string, agentLogs string, otherFiles []model.FilePart) {
	var sawText bool
	for _, a := range artifacts {
		for _, p := range a.Parts {
			switch p.Kind {
			case model.PartText:
				if !sawText {
					text = p.Text
					sawText = true
				}
			case model.PartFile:
				if p.File == nil {
					continue
				}
				if isLogFile(p.File.Name) {
					agentLogs = string(p.File.Bytes)
				} else {
					otherFiles = append(otherFiles, *p.File)
				}
			}
		}
	}
	return text, agentLogs, otherFiles
}

func isLogFile(name string) bool {
	lower := strings.ToLower(name)
	if !strings.Contains(lower, "log") {
		return false
	}
	return strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".log")
}
