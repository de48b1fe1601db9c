package batch

import (
	"context"
	"path/filepath"

	"github.com/sdejongh/xtochd/pkg/archive"
	"github.com/sdejongh/xtochd/pkg/convert"
	"github.com/sdejongh/xtochd/pkg/logging"
	"github.com/sdejongh/xtochd/pkg/models"
)

// Action is what a conversion run would do with a group
type Action string

const (
	ActionConvert Action = "convert"
	ActionExpand  Action = "expand"
	ActionSkip    Action = "skip"
)

// PlanEntry is the would-be outcome of one group
type PlanEntry struct {
	Group  *models.FileGroup
	Target string
	Action Action
	Reason string
	// Members lists the qualifying members of an archive
	Members []archive.Member
}

// Plan lists every group with its would-be outcome without converting or
// extracting anything
func (s *Session) Plan() []PlanEntry {
	ctx := context.Background()
	groups := s.index.Groups()
	entries := make([]PlanEntry, 0, len(groups))

	for _, g := range groups {
		target := filepath.Join(s.opts.OutputDir, convert.TargetName(g.Primary, s.outputExt))
		if s.out != nil {
			target = filepath.Join(s.out.Root(), convert.TargetName(g.Primary, s.outputExt))
		}
		entry := PlanEntry{Group: g, Target: target, Action: ActionConvert}

		switch {
		case g.Primary.IsArchive():
			entry.Action = ActionExpand
			if s.expander == nil {
				break
			}
			plan, err := s.expander.Inspect(g.Primary.Path)
			if err != nil {
				entry.Action = ActionSkip
				entry.Reason = err.Error()
				break
			}
			entry.Members = plan.Members
			switch {
			case len(plan.Members) == 0:
				entry.Action = ActionSkip
				entry.Reason = convert.ReasonNoImages
			case plan.Complete():
				entry.Action = ActionSkip
				entry.Reason = archive.ReasonAlreadyConverted
			}

		case !g.Convertible():
			entry.Action = ActionSkip
			entry.Reason = convert.ReasonSidecarOnly

		case s.out != nil:
			exists, err := s.out.Exists(ctx, convert.TargetName(g.Primary, s.outputExt))
			if err != nil {
				s.logger.Warn(ctx, "Cannot check output", logging.Fields{"target": target, "error": err.Error()})
			}
			if exists {
				entry.Action = ActionSkip
				entry.Reason = convert.ReasonOutputExists
			}
		}
		entries = append(entries, entry)
	}
	return entries
}
