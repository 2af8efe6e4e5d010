package domain

// ReportTemplate is a report type as resolved from the template catalog.
type ReportTemplate struct {
	ID           string            `yaml:"id" json:"id" validate:"required"`
	Name         string            `yaml:"name" json:"name" validate:"required"`
	Description  string            `yaml:"description" json:"description,omitempty"`
	Sections     []SectionTemplate `yaml:"sections" json:"sections" validate:"required,min=1,dive"`
	Charts       []ChartSpec       `yaml:"charts" json:"charts,omitempty" validate:"dive"`
	Tables       []TableSpec       `yaml:"tables" json:"tables,omitempty" validate:"dive"`
	DesignTokens map[string]string `yaml:"design_tokens" json:"design_tokens,omitempty"`
}

type SectionTemplate struct {
	ID       string `yaml:"id" json:"id" validate:"required"`
	Title    string `yaml:"title" json:"title" validate:"required"`
	Prompt   string `yaml:"prompt" json:"prompt"`
	MinWords int    `yaml:"min_words" json:"min_words,omitempty" validate:"gte=0"`
}

type ChartType string

const (
	ChartBar  ChartType = "bar"
	ChartLine ChartType = "line"
	ChartPie  ChartType = "pie"
)

// ChartSpec describes a chart derived from one section's content and placed
// after the section at index AnchorAfter.
type ChartSpec struct {
	ID          string    `yaml:"id" json:"id" validate:"required"`
	Title       string    `yaml:"title" json:"title" validate:"required"`
	Type        ChartType `yaml:"type" json:"type" validate:"oneof=bar line pie"`
	Source      string    `yaml:"source" json:"source" validate:"required"`
	AnchorAfter int       `yaml:"anchor_after" json:"anchor_after" validate:"gte=0"`
}

type TableSpec struct {
	ID          string   `yaml:"id" json:"id" validate:"required"`
	Title       string   `yaml:"title" json:"title" validate:"required"`
	Source      string   `yaml:"source" json:"source" validate:"required"`
	Columns     []string `yaml:"columns" json:"columns,omitempty"`
	AnchorAfter int      `yaml:"anchor_after" json:"anchor_after" validate:"gte=0"`
}

type BlockType string

const (
	BlockSection BlockType = "section"
	BlockChart   BlockType = "chart"
	BlockTable   BlockType = "table"
)

// Document is the assembled, format independent report handed to exporters.
type Document struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Subtitle     string            `json:"subtitle,omitempty"`
	Blocks       []Block           `json:"blocks"`
	DesignTokens map[string]string `json:"design_tokens,omitempty"`
}

type Block struct {
	Type    BlockType `json:"type"`
	Section *Section  `json:"section,omitempty"`
	Chart   *Chart    `json:"chart,omitempty"`
	Table   *Table    `json:"table,omitempty"`
}

type Section struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type DataPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

type Chart struct {
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Type   ChartType   `json:"type"`
	Points []DataPoint `json:"points"`
}

type Table struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}
