package template

import (
	"encoding/json"
	"fmt"
	"sort"
)

// BackendType selects the backend half of a starter configuration
type BackendType string

const (
	BackendFastAPI BackendType = "fastapi"
	BackendExpress BackendType = "express"
	BackendNest    BackendType = "nest"
	BackendSpring  BackendType = "spring"
	BackendGeneric BackendType = "generic"
)

// FrontendType selects the optional frontend half
type FrontendType string

const (
	FrontendNone FrontendType = ""
	FrontendVite FrontendType = "vite"
	FrontendNext FrontendType = "next"
)

// Options parameterize a starter configuration
type Options struct {
	Backend     BackendType
	Frontend    FrontendType
	PackageName string // generated client package, e.g. @app/api
}

// Document is a starter configuration. It marshals to the same JSON shape
// the config loader reads.
type Document struct {
	Services Services       `json:"services"`
	Sync     map[string]any `json:"sync"`
	Status   map[string]any `json:"status"`
	History  map[string]any `json:"history"`
}

type Services struct {
	Backend  Backend   `json:"backend"`
	Client   Client    `json:"client"`
	Frontend *Frontend `json:"frontend,omitempty"`
}

type Backend struct {
	Path         string  `json:"path"`
	Port         int     `json:"port"`
	StartCommand string  `json:"startCommand"`
	ReadyPattern string  `json:"readyPattern,omitempty"`
	APISpec      APISpec `json:"apiSpec"`
}

type APISpec struct {
	Path  string   `json:"path"`
	Watch []string `json:"watch,omitempty"`
}

type Client struct {
	Path            string `json:"path"`
	PackageName     string `json:"packageName"`
	Generator       string `json:"generator"`
	GenerateCommand string `json:"generateCommand"`
	BuildCommand    string `json:"buildCommand,omitempty"`
}

type Frontend struct {
	Path         string `json:"path"`
	Port         int    `json:"port"`
	StartCommand string `json:"startCommand"`
	ReadyPattern string `json:"readyPattern,omitempty"`
}

// Generator provides template generation functionality
type Generator struct{}

// NewGenerator creates a new template generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates a starter configuration for the selected stack
func (g *Generator) Generate(opts Options) (*Document, error) {
	be, err := g.backend(opts.Backend)
	if err != nil {
		return nil, err
	}
	pkg := opts.PackageName
	if pkg == "" {
		pkg = "@app/api"
	}
	doc := &Document{
		Services: Services{
			Backend: be,
			Client: Client{
				Path:            "./client",
				PackageName:     pkg,
				Generator:       "@hey-api/openapi-ts",
				GenerateCommand: "npm run generate",
				BuildCommand:    "npm run build",
			},
		},
		Sync: map[string]any{
			"strategy":             "smart",
			"debounceMs":           1000,
			"pollingInterval":      5000,
			"autoLink":             opts.Frontend != FrontendNone,
			"retryAttempts":        3,
			"retryDelay":           1000,
			"runInitialGeneration": true,
		},
		Status:  map[string]any{"listen": "127.0.0.1:4545"},
		History: map[string]any{"dsn": "sqlite://.specsync/history.db"},
	}
	if opts.Frontend != FrontendNone {
		fe, err := g.frontend(opts.Frontend)
		if err != nil {
			return nil, err
		}
		doc.Services.Frontend = fe
	}
	return doc, nil
}

// GenerateJSON creates an indented JSON representation of the template
func (g *Generator) GenerateJSON(opts Options) ([]byte, error) {
	doc, err := g.Generate(opts)
	if err != nil {
		return nil, err
	}
	jsonData, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return append(jsonData, '\n'), nil
}

// GetSupportedTypes returns the supported backend and frontend types
func (g *Generator) GetSupportedTypes() (backends, frontends []string) {
	for k := range backendTemplates {
		backends = append(backends, string(k))
	}
	sort.Strings(backends)
	for k := range frontendTemplates {
		frontends = append(frontends, string(k))
	}
	sort.Strings(frontends)
	return backends, frontends
}

var backendTemplates = map[BackendType]Backend{
	BackendFastAPI: {
		Path: "./backend", Port: 8000,
		StartCommand: "uvicorn main:app --reload --port 8000",
		ReadyPattern: "Application startup complete",
		APISpec:      APISpec{Path: "runtime:/openapi.json", Watch: []string{"**/*.py"}},
	},
	BackendExpress: {
		Path: "./backend", Port: 3001,
		StartCommand: "npm run dev",
		ReadyPattern: "listening",
		APISpec:      APISpec{Path: "openapi.json", Watch: []string{"openapi.json"}},
	},
	BackendNest: {
		Path: "./backend", Port: 3001,
		StartCommand: "npm run start:dev",
		ReadyPattern: "Nest application successfully started",
		APISpec:      APISpec{Path: "runtime:/api-json"},
	},
	BackendSpring: {
		Path: "./backend", Port: 8080,
		StartCommand: "./mvnw spring-boot:run",
		ReadyPattern: "Started",
		APISpec:      APISpec{Path: "runtime:/v3/api-docs"},
	},
	BackendGeneric: {
		Path: "./backend", Port: 8000,
		StartCommand: "make run",
		APISpec:      APISpec{Path: "openapi.json"},
	},
}

var frontendTemplates = map[FrontendType]Frontend{
	FrontendVite: {Path: "./frontend", Port: 5173, StartCommand: "npm run dev", ReadyPattern: "ready in"},
	FrontendNext: {Path: "./frontend", Port: 3000, StartCommand: "npm run dev", ReadyPattern: "Ready"},
}

func (g *Generator) backend(t BackendType) (Backend, error) {
	be, ok := backendTemplates[t]
	if !ok {
		return Backend{}, fmt.Errorf("unknown backend type: %s (supported: express, fastapi, generic, nest, spring)", t)
	}
	be.APISpec.Watch = append([]string(nil), be.APISpec.Watch...)
	return be, nil
}

func (g *Generator) frontend(t FrontendType) (*Frontend, error) {
	fe, ok := frontendTemplates[t]
	if !ok {
		return nil, fmt.Errorf("unknown frontend type: %s (supported: next, vite)", t)
	}
	return &fe, nil
}
