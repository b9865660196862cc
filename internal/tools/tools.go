// Package tools implements the cloud sustainability tools exposed by the
// development backend and the MCP server.
package tools

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Tool names shared by the backend, the MCP server and the agent contract.
const (
	ToolCarbonFootprint = "calculate_carbon_footprint"
	ToolDeployInstance  = "deploy_instance"
	ToolSearchKnowledge = "search_knowledge"
)

// DeploymentInitiated is the result text of a successful deploy.
const DeploymentInitiated = "DEPLOYMENT_INITIATED"

// DefaultEmissionRate is used for instances missing from the rate table (kg CO2/hour).
const DefaultEmissionRate = 0.1

var (
	ErrEmptyInstance = errors.New("instance type is required")
	ErrNegativeHours = errors.New("hours must not be negative")
)

var emissionRates = map[string]float64{
	"t3.medium": 0.05,
	"gpu.large": 1.2,
}

// NormalizeInstance lowercases an instance name and, when it has no dot,
// folds the first run of dashes, underscores or spaces after the family into
// one, so "GPU-Large", "gpu large", "gpu_large" and "gpu.large" all match.
func NormalizeInstance(instance string) string {
	s := strings.ToLower(strings.TrimSpace(instance))
	if strings.Contains(s, ".") {
		return s
	}
	i := strings.IndexFunc(s, isInstanceSeparator)
	if i < 0 {
		return s
	}
	size := strings.TrimLeftFunc(s[i:], isInstanceSeparator)
	if size == "" {
		return s[:i]
	}
	return s[:i] + "." + size
}

func isInstanceSeparator(r rune) bool {
	return r == '-' || r == '_' || unicode.IsSpace(r)
}

// EmissionRate returns the kg CO2/hour rate for an instance.
func EmissionRate(instance string) float64 {
	if rate, ok := emissionRates[NormalizeInstance(instance)]; ok {
		return rate
	}
	return DefaultEmissionRate
}

// Footprint is a computed carbon estimate.
type Footprint struct {
	Instance string
	Hours    int
	KgCO2    float64
}

// String formats the estimate the way agent responses carry it.
func (f Footprint) String() string {
	return fmt.Sprintf("%.2f kg", f.KgCO2)
}

// CalculateFootprint estimates emissions for running instance for hours.
func CalculateFootprint(instance string, hours int) (Footprint, error) {
	if strings.TrimSpace(instance) == "" {
		return Footprint{}, ErrEmptyInstance
	}
	if hours < 0 {
		return Footprint{}, ErrNegativeHours
	}
	name := NormalizeInstance(instance)
	return Footprint{
		Instance: name,
		Hours:    hours,
		KgCO2:    EmissionRate(name) * float64(hours),
	}, nil
}

// RequiresApproval reports whether deploying instance needs a human decision.
// High-performance (GPU) instances do.
func RequiresApproval(instance string) bool {
	return strings.HasPrefix(NormalizeInstance(instance), "gpu.")
}

// Deployment is the outcome of a deploy request.
type Deployment struct {
	Instance string
	Hours    int
	Status   string
}

// Deploy starts a deployment. It is a simulation: nothing is provisioned.
func Deploy(instance string, hours int) (Deployment, error) {
	if strings.TrimSpace(instance) == "" {
		return Deployment{}, ErrEmptyInstance
	}
	if hours < 0 {
		return Deployment{}, ErrNegativeHours
	}
	return Deployment{
		Instance: NormalizeInstance(instance),
		Hours:    hours,
		Status:   DeploymentInitiated,
	}, nil
}
