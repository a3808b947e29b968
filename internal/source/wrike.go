package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/engine"
)

// DefaultWrikeBaseURL is the production Wrike API root.
const DefaultWrikeBaseURL = "https://www.wrike.com/api/v4"

// ErrSpaceNotFound reports that the configured workspace container does not
// exist; the orchestrator aborts a run on it before touching the warehouse.
var ErrSpaceNotFound = errors.New("wrike space not found")

// folderFields and taskFields are the extra payload fields requested on
// list endpoints; Wrike omits them unless asked.
const (
	folderFields = "[customFields,metadata,description,briefDescription,attachmentCount,superParentIds,space,customItemTypeId,hasAttachments]"
	taskFields   = "[customFields,recurrent,attachmentCount,effortAllocation,billingType,hasAttachments,parentIds,superParentIds,responsibleIds,description,briefDescription,superTaskIds,subTaskIds,dependencyIds,customItemTypeId]"
)

// Wrike pulls the project hierarchy: spaces, folders filtered by custom
// item type, and tasks within a folder.
type Wrike struct {
	api    apiClient
	logger *log.Logger

	// fieldTitles caches the custom-field id to title mapping for the
	// lifetime of the client; definitions do not change mid-run.
	fieldTitles map[string]string
}

// NewWrike returns a Wrike client. Empty baseURL means production; nil
// logger means stderr.
func NewWrike(baseURL, token string, httpClient *http.Client, logger *log.Logger) *Wrike {
	if baseURL == "" {
		baseURL = DefaultWrikeBaseURL
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[wrike] ", log.LstdFlags)
	}
	return &Wrike{api: newAPIClient(baseURL, token, httpClient), logger: logger}
}

// Space is one Wrike workspace container.
type Space struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Spaces lists every space visible to the token.
func (w *Wrike) Spaces(ctx context.Context) ([]Space, error) {
	var resp struct {
		Data []Space `json:"data"`
	}
	if err := w.api.getJSON(ctx, "/spaces", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// FindSpace returns the space with the given title, or ErrSpaceNotFound.
func (w *Wrike) FindSpace(ctx context.Context, title string) (*Space, error) {
	spaces, err := w.Spaces(ctx)
	if err != nil {
		return nil, err
	}
	for i := range spaces {
		if spaces[i].Title == title {
			return &spaces[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrSpaceNotFound, title)
}

// Ping performs a cheap authenticated call for pre-flight checks.
func (w *Wrike) Ping(ctx context.Context) error {
	_, err := w.Spaces(ctx)
	return err
}

// customFieldTitles returns the id-to-title mapping for the account's
// custom field definitions, fetching it on first use.
func (w *Wrike) customFieldTitles(ctx context.Context) (map[string]string, error) {
	if w.fieldTitles != nil {
		return w.fieldTitles, nil
	}

	var resp struct {
		Data []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"data"`
	}
	if err := w.api.getJSON(ctx, "/customfields", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching custom field definitions: %w", err)
	}

	titles := make(map[string]string, len(resp.Data))
	for _, f := range resp.Data {
		titles[f.ID] = f.Title
	}
	w.fieldTitles = titles
	return titles, nil
}

// FoldersByType lists the folders of one custom item type within a space,
// flattened into engine records.
func (w *Wrike) FoldersByType(ctx context.Context, spaceID, customItemType string) ([]engine.SourceRecord, error) {
	titles, err := w.customFieldTitles(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{
		"customItemTypes": {"[" + customItemType + "]"},
		"fields":          {folderFields},
	}
	var resp struct {
		Data []map[string]any `json:"data"`
	}
	path := "/spaces/" + spaceID + "/folders"
	if err := w.api.getJSON(ctx, path, query, &resp); err != nil {
		return nil, err
	}

	records := make([]engine.SourceRecord, 0, len(resp.Data))
	for _, raw := range resp.Data {
		records = append(records, flattenFolder(raw, titles))
	}
	return records, nil
}

// FolderTasks lists the tasks of one folder, flattened into engine records.
func (w *Wrike) FolderTasks(ctx context.Context, folderID string) ([]engine.SourceRecord, error) {
	titles, err := w.customFieldTitles(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{"fields": {taskFields}}
	var resp struct {
		Data []map[string]any `json:"data"`
	}
	path := "/folders/" + folderID + "/tasks"
	if err := w.api.getJSON(ctx, path, query, &resp); err != nil {
		return nil, err
	}

	records := make([]engine.SourceRecord, 0, len(resp.Data))
	for _, raw := range resp.Data {
		records = append(records, flattenTask(raw, titles))
	}
	return records, nil
}

// flattenFolder lifts a folder payload into a flat property map: top-level
// scalars verbatim, project status fields under their Wrike names, and
// custom fields keyed by field title.
func flattenFolder(raw map[string]any, fieldTitles map[string]string) engine.SourceRecord {
	rec := engine.SourceRecord{
		ID:       stringOf(raw["id"]),
		ParentID: firstString(raw["parentIds"]),
		Props:    make(map[string]any),
	}

	for key, v := range raw {
		switch key {
		case "customFields", "parentIds", "project", "metadata":
		default:
			rec.Props[key] = v
		}
	}

	if project, ok := raw["project"].(map[string]any); ok {
		rec.Props["status"] = project["status"]
		rec.Props["customStatusId"] = project["customStatusId"]
		rec.Props["ownerId"] = firstString(project["ownerIds"])
	}

	mergeCustomFields(rec.Props, raw["customFields"], fieldTitles)
	return rec
}

// flattenTask lifts a task payload: scheduling dates, responsible, effort
// and custom fields all become flat properties.
func flattenTask(raw map[string]any, fieldTitles map[string]string) engine.SourceRecord {
	rec := engine.SourceRecord{
		ID:       stringOf(raw["id"]),
		ParentID: firstString(raw["parentIds"]),
		Props:    make(map[string]any),
	}

	for key, v := range raw {
		switch key {
		case "customFields", "parentIds", "superParentIds", "responsibleIds",
			"dates", "effortAllocation":
		default:
			rec.Props[key] = v
		}
	}

	rec.Props["superParentId"] = firstString(raw["superParentIds"])
	rec.Props["responsibleId"] = firstString(raw["responsibleIds"])

	if dates, ok := raw["dates"].(map[string]any); ok {
		rec.Props["startDate"] = dates["start"]
		rec.Props["dueDate"] = dates["due"]
	}
	if effort, ok := raw["effortAllocation"].(map[string]any); ok {
		rec.Props["totalEffort"] = effort["totalEffort"]
		rec.Props["effortMode"] = effort["mode"]
	}

	mergeCustomFields(rec.Props, raw["customFields"], fieldTitles)
	return rec
}

// mergeCustomFields copies a payload's customFields array into props, keyed
// by field title. Fields whose definition is unknown keep their raw id as
// the key so an overlay can still map them.
func mergeCustomFields(props map[string]any, v any, fieldTitles map[string]string) {
	fields, ok := v.([]any)
	if !ok {
		return
	}
	for _, f := range fields {
		field, ok := f.(map[string]any)
		if !ok {
			continue
		}
		id := stringOf(field["id"])
		key := fieldTitles[id]
		if key == "" {
			key = id
		}
		if key != "" {
			props[key] = field["value"]
		}
	}
}
