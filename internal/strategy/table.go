package strategy

import (
	"strconv"
	"strings"

	"github.com/cwygoda/mediagrab/internal/domain"
)

// DefaultAudioBitrate is substituted for {bitrate} when none was requested.
const DefaultAudioBitrate = 320

// Attempt is one concrete fallback tier for a job.
type Attempt struct {
	Name string
	Args []string
}

// Table yields the ordered attempts for a (media type, platform) pair.
type Table struct {
	specs []AttemptSpec
}

// NewTable creates a table from declared attempt specs.
func NewTable(specs []AttemptSpec) *Table {
	return &Table{specs: specs}
}

// Attempts returns the attempts applying to the payload in declared order,
// with placeholders substituted.
func (t *Table) Attempts(p domain.Payload) []Attempt {
	var out []Attempt
	for _, s := range t.specs {
		if domain.MediaType(s.Media) != p.Media {
			continue
		}
		if s.Platform != AnyPlatform && s.Platform != p.Platform {
			continue
		}
		args, ok := expand(s.Args, p)
		if !ok {
			continue
		}
		out = append(out, Attempt{Name: s.Name, Args: args})
	}
	return out
}

func expand(args []string, p domain.Payload) ([]string, bool) {
	bitrate := p.AudioBitrate
	if bitrate == 0 {
		bitrate = DefaultAudioBitrate
	}

	out := make([]string, len(args))
	for i, arg := range args {
		if strings.Contains(arg, "{height}") {
			if p.MaxHeight == 0 {
				return nil, false
			}
			arg = strings.ReplaceAll(arg, "{height}", strconv.Itoa(p.MaxHeight))
		}
		out[i] = strings.ReplaceAll(arg, "{bitrate}", strconv.Itoa(bitrate))
	}
	return out, true
}
