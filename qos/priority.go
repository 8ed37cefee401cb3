package qos

import (
	"net/http"
	"strconv"
)

// ExtractPriority maps an incoming request to its initial priority level
// by inspecting the `priority` query parameter, corresponding to the
// original filter's calcPriority.
//
// BYPASS is checked before range validation even though it falls outside
// [MaxUrgency, minPriority]: the original source's range check excludes 0,
// but a dedicated BYPASS branch short-circuits ahead of it elsewhere in
// the filter, so the two are never reconciled into one inclusive range.
// This function keeps that same ordering deliberately (see DESIGN.md,
// "BYPASS range").
func ExtractPriority(r *http.Request, minPriority int) int {
	raw := r.URL.Query().Get("priority")
	if raw == "" {
		return minPriority
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return minPriority
	}
	if v == Bypass {
		return Bypass
	}
	if v < MaxUrgency || v > minPriority {
		return minPriority
	}
	return v
}
