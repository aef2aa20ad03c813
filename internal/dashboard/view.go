package dashboard

import (
	"time"
)

type PageID string

const (
	PageDashboard PageID = "dashboard"
	PageUpload    PageID = "upload"
	PagePolicies  PageID = "policies"
	PageScan      PageID = "scan"
	PageReports   PageID = "reports"
)

type pageInfo struct {
	id    PageID
	label string
}

// pages is the fixed navigation order.
var pages = []pageInfo{
	{PageDashboard, "Dashboard"},
	{PageUpload, "Upload Data"},
	{PagePolicies, "Policies"},
	{PageScan, "Compliance Scan"},
	{PageReports, "Reports"},
}

// Pages lists the known page identifiers in navigation order.
func Pages() []PageID {
	ids := make([]PageID, len(pages))
	for i, p := range pages {
		ids[i] = p.id
	}
	return ids
}

func IsPage(id PageID) bool {
	for _, p := range pages {
		if p.id == id {
			return true
		}
	}
	return false
}

type TableID string

const (
	TablePolicies   TableID = "policies"
	TableViolations TableID = "violations"
	TableReports    TableID = "reports"
)

// Source tells where the rows currently on screen came from.
type Source string

const (
	SourceNone     Source = ""
	SourceLive     Source = "live"
	SourceFallback Source = "fallback"
	SourceEmpty    Source = "empty"
)

type ModalID string

const (
	ModalPolicyForm    ModalID = "policy-form"
	ModalPolicyView    ModalID = "policy-view"
	ModalViolationView ModalID = "violation-view"
	ModalReportView    ModalID = "report-view"
)

var modalIDs = []ModalID{ModalPolicyForm, ModalPolicyView, ModalViolationView, ModalReportView}

type StatusID string

const (
	StatusUpload StatusID = "upload-status"
	StatusScan   StatusID = "scan-status"
)

type StatusKind string

const (
	StatusProcessing StatusKind = "processing"
	StatusSuccess    StatusKind = "success"
	StatusError      StatusKind = "error"
)

type ControlID string

const (
	ControlProcessUpload  ControlID = "process-btn"
	ControlRunScan        ControlID = "run-scan-btn"
	ControlGenerateReport ControlID = "generate-report-btn"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Section struct {
	Page    PageID
	Title   string
	Visible bool
}

type NavItem struct {
	Page   PageID
	Label  string
	Active bool
}

type Cell struct {
	Text  string
	Class string
}

// RowAction is a per-row control bound to the row's item id.
type RowAction struct {
	Label  string
	Kind   string
	Target string
}

type Row struct {
	ID      string
	Cells   []Cell
	Actions []RowAction
}

type Table struct {
	ID      TableID
	Columns []string
	Rows    []Row
	Source  Source
}

type StatCard struct {
	Key   string
	Label string
	Value string
}

type ChartPoint struct {
	Label string
	Value int
	Color string
}

type Chart struct {
	ID     string
	Title  string
	Kind   string
	Points []ChartPoint
}

// Max is the largest point value, at least 1, for scaling bars.
func (c Chart) Max() int {
	max := 1
	for _, p := range c.Points {
		if p.Value > max {
			max = p.Value
		}
	}
	return max
}

type Field struct {
	Label string
	Value string
	Class string
}

type ModalSection struct {
	Heading string
	Lines   []string
}

type Modal struct {
	ID       ModalID
	Title    string
	Open     bool
	Fields   []Field
	Sections []ModalSection
}

type Status struct {
	Text    string
	Kind    StatusKind
	Visible bool
}

type Control struct {
	ID       ControlID
	Label    string
	Disabled bool
	Busy     bool
}

type Notification struct {
	ID      uint64
	Level   Level
	Message string
	At      time.Time
}

// PolicyForm holds the values of the add-policy form.
type PolicyForm struct {
	Title        string
	Jurisdiction string
	Category     string
	Content      string
}

// View is everything an operator sees for one session.
type View struct {
	CurrentPage   PageID
	Sections      []Section
	Nav           []NavItem
	Tables        map[TableID]*Table
	Stats         []StatCard
	Charts        []Chart
	DashboardFrom Source
	Modals        map[ModalID]*Modal
	Statuses      map[StatusID]*Status
	Controls      map[ControlID]*Control
	Notifications []Notification
	PolicyForm    PolicyForm
	SelectedFile  string
}

func newView() View {
	v := View{
		Tables: map[TableID]*Table{
			TablePolicies: {
				ID:      TablePolicies,
				Columns: []string{"Title", "Jurisdiction", "Category", "Created", "Actions"},
			},
			TableViolations: {
				ID:      TableViolations,
				Columns: []string{"Transaction ID", "Policy", "Risk Level", "Description", "Actions"},
			},
			TableReports: {
				ID:      TableReports,
				Columns: []string{"Report ID", "Generated", "Actions"},
			},
		},
		Modals:   make(map[ModalID]*Modal, len(modalIDs)),
		Statuses: map[StatusID]*Status{StatusUpload: {}, StatusScan: {}},
		Controls: map[ControlID]*Control{
			ControlProcessUpload:  {ID: ControlProcessUpload, Label: "Process Transactions", Disabled: true},
			ControlRunScan:        {ID: ControlRunScan, Label: "Run Compliance Scan"},
			ControlGenerateReport: {ID: ControlGenerateReport, Label: "Generate Report"},
		},
	}
	for _, id := range modalIDs {
		v.Modals[id] = &Modal{ID: id}
	}
	v.Modals[ModalPolicyForm].Title = "Add Policy"
	for _, p := range pages {
		v.Sections = append(v.Sections, Section{Page: p.id, Title: p.label})
		v.Nav = append(v.Nav, NavItem{Page: p.id, Label: p.label})
	}
	return v
}

// Table returns the table with id, or an empty one.
func (v View) Table(id TableID) Table {
	if t, ok := v.Tables[id]; ok && t != nil {
		return *t
	}
	return Table{ID: id}
}

func (v View) Modal(id ModalID) Modal {
	if m, ok := v.Modals[id]; ok && m != nil {
		return *m
	}
	return Modal{ID: id}
}

func (v View) Status(id StatusID) Status {
	if s, ok := v.Statuses[id]; ok && s != nil {
		return *s
	}
	return Status{}
}

func (v View) Control(id ControlID) Control {
	if c, ok := v.Controls[id]; ok && c != nil {
		return *c
	}
	return Control{ID: id}
}

// OpenModal returns the open modal, if any.
func (v View) OpenModal() *Modal {
	for _, id := range modalIDs {
		if m := v.Modals[id]; m != nil && m.Open {
			cp := m.clone()
			return &cp
		}
	}
	return nil
}

// VisibleSections counts the sections currently shown.
func (v View) VisibleSections() int {
	n := 0
	for _, s := range v.Sections {
		if s.Visible {
			n++
		}
	}
	return n
}

func (v View) ActiveNavItems() int {
	n := 0
	for _, item := range v.Nav {
		if item.Active {
			n++
		}
	}
	return n
}

func (t Table) clone() Table {
	cp := t
	cp.Columns = append([]string(nil), t.Columns...)
	cp.Rows = make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		cp.Rows[i] = Row{
			ID:      r.ID,
			Cells:   append([]Cell(nil), r.Cells...),
			Actions: append([]RowAction(nil), r.Actions...),
		}
	}
	return cp
}

func (m Modal) clone() Modal {
	cp := m
	cp.Fields = append([]Field(nil), m.Fields...)
	cp.Sections = make([]ModalSection, len(m.Sections))
	for i, s := range m.Sections {
		cp.Sections[i] = ModalSection{Heading: s.Heading, Lines: append([]string(nil), s.Lines...)}
	}
	return cp
}

// clone deep-copies the view so callers can render it without the lock.
func (v View) clone() View {
	cp := v
	cp.Sections = append([]Section(nil), v.Sections...)
	cp.Nav = append([]NavItem(nil), v.Nav...)
	cp.Stats = append([]StatCard(nil), v.Stats...)
	cp.Charts = make([]Chart, len(v.Charts))
	for i, c := range v.Charts {
		cp.Charts[i] = c
		cp.Charts[i].Points = append([]ChartPoint(nil), c.Points...)
	}
	cp.Notifications = append([]Notification(nil), v.Notifications...)

	cp.Tables = make(map[TableID]*Table, len(v.Tables))
	for id, t := range v.Tables {
		tc := t.clone()
		cp.Tables[id] = &tc
	}
	cp.Modals = make(map[ModalID]*Modal, len(v.Modals))
	for id, m := range v.Modals {
		mc := m.clone()
		cp.Modals[id] = &mc
	}
	cp.Statuses = make(map[StatusID]*Status, len(v.Statuses))
	for id, s := range v.Statuses {
		sc := *s
		cp.Statuses[id] = &sc
	}
	cp.Controls = make(map[ControlID]*Control, len(v.Controls))
	for id, c := range v.Controls {
		cc := *c
		cp.Controls[id] = &cc
	}
	return cp
}
