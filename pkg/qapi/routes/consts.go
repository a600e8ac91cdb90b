package routes

var (
	BearerAuth = []map[string][]string{
		{"bearer": {}},
	}
)

type Tag string

const (
	TagHealth    Tag = "health"
	TagEvents    Tag = "events"
	TagPipelines Tag = "pipelines"
	TagRuns      Tag = "runs"
)

func (t Tag) String() string { return string(t) }

func AllTags() []string {
	return []string{
		TagHealth.String(),
		TagEvents.String(),
		TagPipelines.String(),
		TagRuns.String(),
	}
}
