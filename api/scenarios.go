/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the database with realistic councils and rate-roll imports
	so the console has something to show. Each scenario saves its councils
	and Refreshes their scopes from generated extracts.

AVAILABLE SCENARIOS:

	single-council:  One council, one period, one blank-rates row skipped
	multi-period:    One council imported for two consecutive periods
	cross-council:   Two councils whose extracts share a valuation id

HOW SCENARIOS WORK:
 1. Save the scenario's councils (fixed ids, so reloading is an upsert)
 2. Build extracts with the factory package
 3. Refresh each (council, period); loading twice gives the same state

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "multi-period"}

SEE ALSO:
  - factory/factory.go: Extract row builders
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/warp/rates-engine/factory"
	"github.com/warp/rates-engine/rates"
)

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-council",
		Name:        "Single Council",
		Description: "One council, 2019 rate roll of 10 properties with one blank-rates row",
	},
	{
		ID:          "multi-period",
		Name:        "Multi-Period",
		Description: "One council imported for 2019 and 2020; identity is per period",
	},
	{
		ID:          "cross-council",
		Name:        "Cross-Council Valuation",
		Description: "Two councils list the same valuation id in 2019; the second is flagged",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.RLock()
	current := h.currentScenario
	h.scenarioMu.RUnlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	summaries, err := h.loadScenario(r.Context(), req.ScenarioID)
	if err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
			return
		}
		writeDomainError(w, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.scenarioMu.Lock()
	h.currentScenario = req.ScenarioID
	h.scenarioMu.Unlock()

	dtos := make([]SummaryDTO, len(summaries))
	for i, s := range summaries {
		dtos[i] = toSummaryDTO(s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "loaded", "scenario": req.ScenarioID, "imports": dtos})
}

var errUnknownScenario = errors.New("unknown scenario")

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// scenarioImport is one Refresh a scenario performs.
type scenarioImport struct {
	council rates.Council
	period  string
	rows    [][]string
}

func demoCouncil(id, name, short string) rates.Council {
	c := factory.Council()
	c.ID = rates.CouncilID(id)
	c.Name = name
	c.ShortName = short
	return c
}

func (h *Handler) loadScenario(ctx context.Context, id string) ([]rates.Summary, error) {
	var imports []scenarioImport

	switch id {
	case "single-council":
		wcc := demoCouncil("demo-wcc", "Wellington City Council", "WCC")
		rows := factory.ExtractWithPrefix("WCC-", 10)
		rows[3] = factory.Row("WCC-004").WithTotals("", "").Fields()
		imports = []scenarioImport{{council: wcc, period: "2019", rows: rows}}

	case "multi-period":
		hcc := demoCouncil("demo-hcc", "Hutt City Council", "HCC")
		next := factory.ExtractWithPrefix("HCC-", 6)
		for i := range next {
			next[i][1] = "2020"
			next[i][5] = "110.00"
		}
		imports = []scenarioImport{
			{council: hcc, period: "2019", rows: factory.ExtractWithPrefix("HCC-", 6)},
			{council: hcc, period: "2020", rows: next},
		}

	case "cross-council":
		pcc := demoCouncil("demo-pcc", "Porirua City Council", "PCC")
		kcdc := demoCouncil("demo-kcdc", "Kapiti Coast District Council", "KCDC")
		imports = []scenarioImport{
			{council: pcc, period: "2019", rows: factory.ExtractWithPrefix("PCC-", 4)},
			{council: kcdc, period: "2019", rows: [][]string{
				factory.Row("PCC-004").WithAddress("4 Boundary Rd", "Pukerua Bay", "Porirua").Fields(),
				factory.Row("KCDC-001").WithAddress("1 Beach Rd", "Paekakariki", "Kapiti").Fields(),
			}},
		}

	default:
		return nil, errUnknownScenario
	}

	summaries := make([]rates.Summary, 0, len(imports))
	for _, imp := range imports {
		if err := h.Store.SaveCouncil(ctx, imp.council); err != nil {
			return nil, err
		}
		scope := factory.Scope(imp.council, imp.period)
		summary, err := h.Importer.Refresh(ctx, scope, rates.Rows(imp.rows))
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}
