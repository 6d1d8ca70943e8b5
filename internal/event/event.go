// Package event defines the GitHub activity event model consumed by the
// detection pipeline. Raw events arrive as JSON from the ingestion queue;
// Decode validates them and resolves the payload variant by event type.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Well-known GitHub event types the pipeline treats specially.
// Any other type decodes with an [OtherPayload].
const (
	TypePush        = "PushEvent"
	TypePullRequest = "PullRequestEvent"
	TypeWorkflowRun = "WorkflowRunEvent"
	TypeIssues      = "IssuesEvent"
	TypeDelete      = "DeleteEvent"
	TypeCreate      = "CreateEvent"
	TypeFork        = "ForkEvent"
	TypeRelease     = "ReleaseEvent"
)

// Validation errors returned by [Decode] and [Event.Validate].
var (
	ErrMissingActor     = errors.New("event: missing actor login")
	ErrMissingRepo      = errors.New("event: missing repo name")
	ErrMissingType      = errors.New("event: missing event type")
	ErrInvalidTimestamp = errors.New("event: invalid created_at timestamp")
)

// Event is a single GitHub activity event.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Actor     Actor     `json:"actor"`
	Repo      Repo      `json:"repo"`
	CreatedAt time.Time `json:"created_at"`
	Public    bool      `json:"public"`

	// Exactly one of these is non-nil after Decode, matching Type.
	Push        *PushPayload        `json:"-"`
	PullRequest *PullRequestPayload `json:"-"`
	WorkflowRun *WorkflowRunPayload `json:"-"`
	Issues      *IssuesPayload      `json:"-"`
	Delete      *DeletePayload      `json:"-"`
	Create      *CreatePayload      `json:"-"`
	Fork        *ForkPayload        `json:"-"`
	Release     *ReleasePayload     `json:"-"`
	Other       map[string]any      `json:"-"`
}

// Actor identifies the user who produced an event.
type Actor struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

// Repo identifies the repository an event targets, in "owner/name" form.
type Repo struct {
	Name string `json:"name"`
	ID   int64  `json:"id"`
}

// Commit is a single commit inside a push payload.
type Commit struct {
	SHA      string `json:"sha"`
	Message  string `json:"message"`
	Distinct bool   `json:"distinct"`
	Author   struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"author"`
}

// PushPayload carries push event details.
type PushPayload struct {
	Ref          string   `json:"ref"`
	Head         string   `json:"head"`
	Before       string   `json:"before"`
	Forced       bool     `json:"forced"`
	Size         int      `json:"size"`
	DistinctSize int      `json:"distinct_size"`
	Commits      []Commit `json:"commits"`
}

// PullRequestPayload carries pull request event details.
type PullRequestPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Title     string `json:"title"`
		Body      string `json:"body"`
		Merged    bool   `json:"merged"`
		Additions int    `json:"additions"`
		Deletions int    `json:"deletions"`
		Files     int    `json:"changed_files"`
	} `json:"pull_request"`
}

// WorkflowRunPayload carries CI workflow run details.
type WorkflowRunPayload struct {
	Action      string `json:"action"`
	WorkflowRun struct {
		Name       string `json:"name"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
		RunAttempt int    `json:"run_attempt"`
		HeadBranch string `json:"head_branch"`
	} `json:"workflow_run"`
}

// IssuesPayload carries issue event details.
type IssuesPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	} `json:"issue"`
}

// DeletePayload carries branch/tag deletion details.
type DeletePayload struct {
	Ref     string `json:"ref"`
	RefType string `json:"ref_type"`
}

// CreatePayload carries branch/tag/repository creation details.
type CreatePayload struct {
	Ref          string `json:"ref"`
	RefType      string `json:"ref_type"`
	MasterBranch string `json:"master_branch"`
}

// ForkPayload carries fork event details.
type ForkPayload struct {
	Forkee struct {
		FullName string `json:"full_name"`
		Private  bool   `json:"private"`
	} `json:"forkee"`
}

// ReleasePayload carries release event details.
type ReleasePayload struct {
	Action  string `json:"action"`
	Release struct {
		TagName    string `json:"tag_name"`
		Name       string `json:"name"`
		Prerelease bool   `json:"prerelease"`
	} `json:"release"`
}

// rawEvent is the wire form with the payload left undecoded.
type rawEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     Actor           `json:"actor"`
	Repo      Repo            `json:"repo"`
	CreatedAt string          `json:"created_at"`
	Public    bool            `json:"public"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode parses a raw JSON event, validates required fields and resolves the
// payload variant by event type. Unknown types keep their payload as a
// generic map in Other.
func Decode(data []byte) (*Event, error) {
	var raw rawEvent

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("event: decode: %w", err)
	}

	if raw.Type == "" {
		return nil, ErrMissingType
	}

	if raw.Actor.Login == "" {
		return nil, ErrMissingActor
	}

	if raw.Repo.Name == "" {
		return nil, ErrMissingRepo
	}

	createdAt, err := time.Parse(time.RFC3339, raw.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw.CreatedAt)
	}

	ev := &Event{
		ID:        raw.ID,
		Type:      raw.Type,
		Actor:     raw.Actor,
		Repo:      raw.Repo,
		CreatedAt: createdAt.UTC(),
		Public:    raw.Public,
	}

	err = ev.decodePayload(raw.Payload)
	if err != nil {
		return nil, err
	}

	return ev, nil
}

func (e *Event) decodePayload(payload json.RawMessage) error {
	if len(payload) == 0 {
		if e.Type != TypePush && e.Type != TypePullRequest {
			return nil
		}

		payload = json.RawMessage("{}")
	}

	var target any

	switch e.Type {
	case TypePush:
		e.Push = &PushPayload{}
		target = e.Push
	case TypePullRequest:
		e.PullRequest = &PullRequestPayload{}
		target = e.PullRequest
	case TypeWorkflowRun:
		e.WorkflowRun = &WorkflowRunPayload{}
		target = e.WorkflowRun
	case TypeIssues:
		e.Issues = &IssuesPayload{}
		target = e.Issues
	case TypeDelete:
		e.Delete = &DeletePayload{}
		target = e.Delete
	case TypeCreate:
		e.Create = &CreatePayload{}
		target = e.Create
	case TypeFork:
		e.Fork = &ForkPayload{}
		target = e.Fork
	case TypeRelease:
		e.Release = &ReleasePayload{}
		target = e.Release
	default:
		e.Other = map[string]any{}
		target = &e.Other
	}

	err := json.Unmarshal(payload, target)
	if err != nil {
		return fmt.Errorf("event: decode %s payload: %w", e.Type, err)
	}

	return nil
}

// Validate reports the first missing required field, or nil.
func (e *Event) Validate() error {
	switch {
	case e.Type == "":
		return ErrMissingType
	case e.Actor.Login == "":
		return ErrMissingActor
	case e.Repo.Name == "":
		return ErrMissingRepo
	case e.CreatedAt.IsZero():
		return ErrInvalidTimestamp
	}

	return nil
}

// GroupKey returns the (actor, repo) grouping key used by batch processing.
func (e *Event) GroupKey() string {
	return e.Actor.Login + "|" + e.Repo.Name
}

// RepoOwner returns the owner half of the "owner/name" repo name.
func (e *Event) RepoOwner() string {
	for i, r := range e.Repo.Name {
		if r == '/' {
			return e.Repo.Name[:i]
		}
	}

	return e.Repo.Name
}
