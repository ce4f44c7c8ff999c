package jobs

import (
	"encoding/json"
	"strings"

	"lifestyle-studio-server/modules/common/apierror"
	"lifestyle-studio-server/modules/common/fallback"
	"lifestyle-studio-server/modules/common/model"
)

// statusAliases maps the words automation workflows report to job statuses.
var statusAliases = map[string]model.Status{
	"pending":     model.StatusQueued,
	"running":     model.StatusProcessing,
	"in_progress": model.StatusProcessing,
	"started":     model.StatusProcessing,
	"completed":   model.StatusDone,
	"complete":    model.StatusDone,
	"success":     model.StatusDone,
	"succeeded":   model.StatusDone,
	"error":       model.StatusFailed,
	"errored":     model.StatusFailed,
	"cancelled":   model.StatusFailed,
}

// ParseCallback reads a status callback body. Result and error fields accept the
// same spellings as synchronous webhook responses. A missing status is inferred:
// a result URL means done, an error means failed.
func ParseCallback(body []byte, video bool) (model.JobUpdate, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return model.JobUpdate{}, apierror.Validation("body", "must be a JSON object")
	}

	urlFields := fallback.ImageURLFields
	if video {
		urlFields = fallback.VideoURLFields
	}
	u := model.JobUpdate{
		ResultURL:    fallback.FirstString(m, urlFields...),
		ErrorMessage: fallback.FirstString(m, fallback.ErrorFields...),
	}
	if !video {
		u.Analysis = fallback.FirstString(m, fallback.AnalysisFields...)
	}

	raw := fallback.FirstString(m, "status", "state", "data.status")
	switch {
	case raw != "":
		st, err := normalizeStatus(raw)
		if err != nil {
			return model.JobUpdate{}, apierror.Validation("status", err.Error())
		}
		u.Status = st
	case u.ResultURL != "":
		u.Status = model.StatusDone
	case u.ErrorMessage != "":
		u.Status = model.StatusFailed
	default:
		return model.JobUpdate{}, apierror.Validation("status", "failed on 'required' validation")
	}

	// "message" often carries a success note
	if u.Status != model.StatusFailed {
		u.ErrorMessage = ""
	}
	if u.Status == model.StatusDone && u.ResultURL == "" {
		return model.JobUpdate{}, apierror.Validation("result_url", "required when status is done")
	}
	return u, nil
}

func normalizeStatus(raw string) (model.Status, error) {
	if st, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return st, nil
	}
	return model.ParseStatus(raw)
}
