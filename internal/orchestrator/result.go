package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cryguy/tickrun/internal/core"
	"github.com/cryguy/tickrun/internal/sandbox"
	"github.com/cryguy/tickrun/internal/segments"
)

func failed(run *Run, err error) *core.RunResult {
	res := core.NewRunResult(run.ID, run.TenantID)
	res.Status = core.StatusError
	res.Kind = core.KindOf(err)
	res.Err = err
	res.Error = core.UserMessage(err)
	return res
}

// assemble fills res from a finished tick. Data that fails validation is
// dropped and reported without affecting the rest of the result.
func assemble(res *core.RunResult, td *core.TickData, fin *sandbox.Finished) {
	col := fin.Collected

	res.Console.Log = append(res.Console.Log, fin.Logs...)
	if col.Results != nil {
		res.Console.Results = col.Results
	}
	if len(col.Visual) > 0 {
		res.Visual = col.Visual
	}
	if fin.Intents != nil {
		res.Intents = fin.Intents
	}
	res.IntentsCPU = fin.IntentCPU

	if col.Status == string(core.StatusError) {
		msg := sanitizeStack(col.Error)
		res.Status = core.StatusError
		res.Error = msg
		res.Kind = core.KindScript
		res.Err = &core.ScriptError{Message: msg}
	}

	var problems []error
	res.Memory.Data = col.Memory
	if err := segments.ValidateMemory(col.Memory); err != nil {
		res.Memory.Data = td.Memory
		problems = append(problems, err)
	}

	writes, errs := segments.ValidateWrites(col.Segments)
	res.MemorySegments = writes
	problems = append(problems, errs...)
	for _, k := range col.InvalidSegments {
		problems = append(problems, &core.ValidationError{Field: "memorySegments", Message: fmt.Sprintf("Memory segment #%s is not a string", k)})
	}

	if col.ActiveSegments != nil {
		if err := segments.ValidateActive(col.ActiveSegments); err != nil {
			problems = append(problems, err)
		} else {
			res.ActiveSegments = col.ActiveSegments
		}
	}
	if col.PublicSegments != nil {
		if err := segments.ValidatePublic(*col.PublicSegments); err != nil {
			problems = append(problems, err)
		} else {
			joined := segments.JoinPublic(*col.PublicSegments)
			res.PublicSegments = &joined
		}
	}

	if called, id, err := col.DefaultPublic(); err != nil {
		problems = append(problems, &core.ValidationError{Field: "defaultPublicSegment", Message: err.Error()})
	} else if called {
		switch {
		case id == nil:
			res.DefaultPublicSegment = &core.DefaultPublicUpdate{Clear: true}
		case segments.CheckID(*id) != nil:
			problems = append(problems, segments.CheckID(*id))
		default:
			res.DefaultPublicSegment = &core.DefaultPublicUpdate{ID: *id}
		}
	}

	if called, req, err := col.ForeignSegment(); err != nil {
		problems = append(problems, &core.ValidationError{Field: "activeForeignSegment", Message: err.Error()})
	} else if called {
		switch {
		case req == nil:
			res.ActiveForeignSegment = &core.ForeignSegmentUpdate{Clear: true}
		case req.ID != nil && segments.CheckID(*req.ID) != nil:
			problems = append(problems, segments.CheckID(*req.ID))
		default:
			res.ActiveForeignSegment = &core.ForeignSegmentUpdate{Username: req.Username, ID: req.ID}
		}
	}

	if len(problems) == 0 {
		return
	}
	msgs := make([]string, len(problems))
	for i, p := range problems {
		msgs[i] = p.Error()
	}
	joined := strings.Join(msgs, "\n")
	if res.Status == core.StatusError {
		res.Error += "\n" + joined
		return
	}
	res.Status = core.StatusError
	res.Error = joined
	res.Kind = core.KindValidation
	res.Err = errors.Join(problems...)
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// sanitizeStack drops host frames from an error stack and escapes it for
// display.
func sanitizeStack(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.Contains(l, "__host_") || strings.Contains(l, "<eval>") {
			continue
		}
		out = append(out, l)
	}
	return htmlEscaper.Replace(strings.TrimRight(strings.Join(out, "\n"), "\n"))
}

func memoryLen(data string) int { return segments.JSLength(data) }
