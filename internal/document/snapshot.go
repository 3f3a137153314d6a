package document

import (
	"encoding/json"
	"fmt"
	"time"
)

// Breakpoint names the responsive layout class the sidebar is rendered at.
type Breakpoint string

const (
	BreakpointMobile  Breakpoint = "mobile"
	BreakpointTablet  Breakpoint = "tablet"
	BreakpointDesktop Breakpoint = "desktop"
)

// TimeTrackerState is the time tracker widget's synchronized state.
type TimeTrackerState struct {
	ElapsedSeconds int    `json:"tempo_decorrido"`
	Running        bool   `json:"esta_executando"`
	Paused         bool   `json:"esta_pausado"`
	Project        string `json:"projeto_atual"`
	Task           string `json:"tarefa_atual"`
	TotalTodaySecs int    `json:"tempo_total_hoje"`
	DailyGoalSecs  int    `json:"meta_diaria"`
}

// FlowchartState is the workflow widget's synchronized state.
type FlowchartState struct {
	Progress         float64 `json:"progresso_workflow"` // 0.0 to 1.0
	CurrentStage     string  `json:"estagio_atual"`
	TotalStages      int     `json:"total_estagios"`
	CompletedStages  int     `json:"estagios_concluidos"`
	ActiveWorkflow   string  `json:"workflow_ativo"`
	RemainingMinutes int     `json:"tempo_estimado_restante"`
}

// NotificationsState is the notification center's synchronized state.
type NotificationsState struct {
	Total         int        `json:"total_notificacoes"`
	Unread        int        `json:"notificacoes_nao_lidas"`
	LastMessage   string     `json:"ultima_notificacao"`
	LastTimestamp *time.Time `json:"timestamp_ultima"`
	Kinds         []string   `json:"tipos_notificacao"`
}

// SidebarState is the container layout's synchronized state.
type SidebarState struct {
	Expanded          bool       `json:"sidebar_expandido"`
	Breakpoint        Breakpoint `json:"breakpoint_atual"`
	Width             int        `json:"largura_atual"`
	Height            int        `json:"altura_atual"`
	VisibleComponents []string   `json:"componentes_visiveis"`
}

// Snapshot aggregates everything the sidebar synchronizes with the
// browser view. JSON keys are read by the browser-side scripts and are
// part of the wire format.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Version   int       `json:"versao"`
	Source    string    `json:"fonte"`

	TimeTracker   TimeTrackerState   `json:"time_tracker"`
	Flowchart     FlowchartState     `json:"flowchart"`
	Notifications NotificationsState `json:"notificacoes"`
	Sidebar       SidebarState       `json:"sidebar"`
}

// NewSnapshot returns a snapshot with sensible defaults: desktop
// breakpoint, eight-hour daily goal, stamped now.
func NewSnapshot(source string) *Snapshot {
	return &Snapshot{
		Timestamp: time.Now(),
		Version:   1,
		Source:    source,
		TimeTracker: TimeTrackerState{
			DailyGoalSecs: 8 * 3600,
		},
		Sidebar: SidebarState{
			Breakpoint: BreakpointDesktop,
		},
	}
}

// Validate checks the snapshot's value ranges.
func (s *Snapshot) Validate() error {
	if s.Flowchart.Progress < 0 || s.Flowchart.Progress > 1 {
		return fmt.Errorf("workflow progress must be within [0, 1] (got %g)", s.Flowchart.Progress)
	}
	if s.Flowchart.CompletedStages > s.Flowchart.TotalStages {
		return fmt.Errorf("completed stages (%d) exceed total stages (%d)",
			s.Flowchart.CompletedStages, s.Flowchart.TotalStages)
	}
	if s.Notifications.Unread > s.Notifications.Total {
		return fmt.Errorf("unread notifications (%d) exceed total (%d)",
			s.Notifications.Unread, s.Notifications.Total)
	}
	switch s.Sidebar.Breakpoint {
	case BreakpointMobile, BreakpointTablet, BreakpointDesktop:
	default:
		return fmt.Errorf("unknown breakpoint %q", s.Sidebar.Breakpoint)
	}
	return nil
}

// ToPayload converts the snapshot into the generic payload mapping that
// travels in the document's "dados" field.
func (s *Snapshot) ToPayload() (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	payload := make(map[string]any)
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to convert snapshot to payload: %w", err)
	}
	return payload, nil
}

// SnapshotFromPayload rebuilds a typed snapshot from a generic payload
// mapping. Unknown keys are ignored; missing keys keep zero values.
func SnapshotFromPayload(payload map[string]any) (*Snapshot, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot from payload: %w", err)
	}
	return &s, nil
}
