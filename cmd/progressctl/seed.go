package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/yuv-man/asd-server/internal/models"
)

// seedNamespace derives stable ids for seed entries that omit one.
var seedNamespace = uuid.MustParse("5b0c7e4e-2f0d-4c55-9d59-0f3f8a1c6e21")

type seedFile struct {
	Exercise []seedExercise `toml:"exercise"`
}

type seedExercise struct {
	ID                   string      `toml:"id"`
	Title                string      `toml:"title"`
	Description          string      `toml:"description"`
	Area                 string      `toml:"area"`
	Type                 string      `toml:"type"`
	Instructions         string      `toml:"instructions"`
	ImageURL             string      `toml:"image_url"`
	IsTest               bool        `toml:"is_test"`
	EstimatedTimeMinutes int         `toml:"estimated_time_minutes"`
	Skills               []string    `toml:"skills"`
	Levels               []seedLevel `toml:"level"`
}

type seedLevel struct {
	Level        int            `toml:"level"`
	PassingScore float64        `toml:"passing_score"`
	Parameters   map[string]any `toml:"parameters"`
}

func loadSeed(path string) ([]models.Exercise, error) {
	var f seedFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to decode seed file: %w", err)
	}
	return f.exercises()
}

func (f seedFile) exercises() ([]models.Exercise, error) {
	out := make([]models.Exercise, 0, len(f.Exercise))
	for i, s := range f.Exercise {
		e, err := s.toModel()
		if err != nil {
			return nil, fmt.Errorf("exercise #%d (%q): %w", i+1, s.Title, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s seedExercise) toModel() (models.Exercise, error) {
	e := models.Exercise{
		Title:                strings.TrimSpace(s.Title),
		Description:          s.Description,
		Area:                 models.Area(s.Area),
		Type:                 s.Type,
		Instructions:         s.Instructions,
		IsTest:               s.IsTest,
		EstimatedTimeMinutes: s.EstimatedTimeMinutes,
		Skills:               s.Skills,
	}
	if s.ImageURL != "" {
		url := s.ImageURL
		e.ImageURL = &url
	}

	if s.ID != "" {
		id, err := uuid.Parse(s.ID)
		if err != nil {
			return e, fmt.Errorf("invalid id: %w", err)
		}
		e.ID = id
	} else {
		e.ID = uuid.NewSHA1(seedNamespace, []byte(s.Area+"/"+e.Title))
	}

	for _, l := range s.Levels {
		lvl := models.DifficultyLevel{Level: l.Level, PassingScore: l.PassingScore}
		if len(l.Parameters) > 0 {
			raw, err := json.Marshal(l.Parameters)
			if err != nil {
				return e, fmt.Errorf("level %d parameters: %w", l.Level, err)
			}
			lvl.Parameters = raw
		}
		e.DifficultyLevels = append(e.DifficultyLevels, lvl)
	}
	return e, nil
}
