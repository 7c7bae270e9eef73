package models

import "time"

// AnalysisResult 统计分析结果，每次运行整体替换
type AnalysisResult struct {
	Summary                 AnalysisSummary       `json:"summary"`
	ScaleQuestions          []ScaleQuestionStats  `json:"scale_questions"`
	SingleChoiceQuestions   []ChoiceQuestionStats `json:"single_choice_questions"`
	MultipleChoiceQuestions []ChoiceQuestionStats `json:"multiple_choice_questions"`
	OpenEndedQuestions      []OpenQuestionStats   `json:"open_ended_questions"`
	CrossAnalysis           *CrossAnalysis        `json:"cross_analysis,omitempty"`
	GeneratedAt             time.Time             `json:"generated_at"`
}

// AnalysisSummary 统计摘要
type AnalysisSummary struct {
	TotalFields       int `json:"total_fields"`
	AnalyzedQuestions int `json:"analyzed_questions"`
	TotalResponses    int `json:"total_responses"`
}

// CountShare 计数与占比
type CountShare struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ScaleStatistics 量表题描述统计
type ScaleStatistics struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
}

// ScoreBucket 单个分值分布
type ScoreBucket struct {
	Score string `json:"score"`
	CountShare
}

// NPSAnalysis 净推荐值分析
type NPSAnalysis struct {
	Promoters  CountShare `json:"promoters"`
	Passives   CountShare `json:"passives"`
	Detractors CountShare `json:"detractors"`
	NPS        float64    `json:"nps"`
	Evaluation string     `json:"evaluation"`
}

// ScaleQuestionStats 量表题结果
type ScaleQuestionStats struct {
	Column       string          `json:"column"`
	Statistics   ScaleStatistics `json:"statistics"`
	Distribution []ScoreBucket   `json:"distribution"`
	NPSAnalysis  *NPSAnalysis    `json:"nps_analysis,omitempty"`
}

// OptionStat 选项统计
type OptionStat struct {
	Option string `json:"option"`
	CountShare
}

// ChoiceSummary 多选题汇总
type ChoiceSummary struct {
	MostSelected         OptionStat `json:"most_selected"`
	LeastSelected        OptionStat `json:"least_selected"`
	AverageSelectionRate float64    `json:"average_selection_rate"`
}

// ChoiceQuestionStats 单选/多选题结果
type ChoiceQuestionStats struct {
	Column         string         `json:"column"`
	ValidResponses int            `json:"valid_responses"`
	TotalOptions   int            `json:"total_options"`
	Options        []OptionStat   `json:"options"`
	MostSelected   *OptionStat    `json:"most_selected,omitempty"`
	Summary        *ChoiceSummary `json:"summary,omitempty"`
}

// KeywordCount 关键词词频
type KeywordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// OpenTextStatistics 开放题文本统计
type OpenTextStatistics struct {
	AverageLength   float64 `json:"average_length"`
	UniqueCount     int     `json:"unique_count"`
	UniquenessRatio float64 `json:"uniqueness_ratio"`
}

// OpenQuestionStats 开放题结果
type OpenQuestionStats struct {
	Column          string             `json:"column"`
	ValidResponses  int                `json:"valid_responses"`
	Statistics      OpenTextStatistics `json:"statistics"`
	TopKeywords     []KeywordCount     `json:"top_keywords"`
	SampleResponses []string           `json:"sample_responses"`
}

// Correlation 两字段相关性
type Correlation struct {
	FieldA     string  `json:"field_a"`
	FieldB     string  `json:"field_b"`
	Pearson    float64 `json:"pearson"`
	Spearman   float64 `json:"spearman"`
	Strength   string  `json:"strength"`
	SampleSize int     `json:"sample_size"`
}

// CrossAnalysis 跨字段分析
type CrossAnalysis struct {
	Correlations []Correlation `json:"correlations"`
}
