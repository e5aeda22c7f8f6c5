package main

import (
	"github.com/yawl-engine/core/pkg/spec"
	"github.com/yawl-engine/core/pkg/yawlerr"
)

// specDocument is the wire shape a specification is submitted in: a flat,
// JSON-friendly DTO that specDocument.toSpecification converts into the
// graph-indexed spec.Specification the engine actually runs. Kept here
// rather than in pkg/spec because the immutable model package builds its
// adjacency indices through constructors (spec.NewNet), not struct literals,
// and has no reason to know about JSON.
type specDocument struct {
	URI       string      `json:"uri" binding:"required"`
	Version   string      `json:"version" binding:"required"`
	RootNetID string      `json:"root_net_id" binding:"required"`
	Nets      []netDoc    `json:"nets" binding:"required"`
}

type netDoc struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	InputConditionID  string       `json:"input_condition_id"`
	OutputConditionID string       `json:"output_condition_id"`
	Tasks             []taskDoc    `json:"tasks"`
	Conditions        []conditionDoc `json:"conditions"`
	Flows             []flowDoc    `json:"flows"`
}

type conditionDoc struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsInput  bool   `json:"is_input"`
	IsOutput bool   `json:"is_output"`
}

type taskDoc struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Join                string            `json:"join"`
	Split               string            `json:"split"`
	Decomposition       decompositionDoc  `json:"decomposition"`
	MultiInstance       *multiInstanceDoc `json:"multi_instance,omitempty"`
	CancellationRegion  []string          `json:"cancellation_region,omitempty"`
	Timer               *timerDoc         `json:"timer,omitempty"`
	DataMapping         dataMappingDoc    `json:"data_mapping"`
	OrJoinDepthOverride int               `json:"or_join_depth_override,omitempty"`
}

type decompositionDoc struct {
	Kind       string `json:"kind"`
	HandlerRef string `json:"handler_ref,omitempty"`
	SubNetRef  string `json:"sub_net_ref,omitempty"`
}

type multiInstanceDoc struct {
	Min                int    `json:"min"`
	Max                int    `json:"max"`
	Threshold          int    `json:"threshold"`
	CreationMode       string `json:"creation_mode"`
	ContinuationPolicy string `json:"continuation_policy"`
	Accessor           string `json:"accessor"`
	Splitter           string `json:"splitter"`
	Aggregator         string `json:"aggregator"`
	OrderedByCreation  bool   `json:"ordered_by_creation"`
}

type timerDoc struct {
	Expression string `json:"expression"`
	Policy     string `json:"policy"`
	FireAt     string `json:"fire_at"`
}

type dataMappingDoc struct {
	Input  map[string]string `json:"input"`
	Output map[string]string `json:"output"`
}

type flowDoc struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Predicate string `json:"predicate,omitempty"`
	IsDefault bool   `json:"is_default,omitempty"`
	Rank      int    `json:"rank"`
}

func (d *specDocument) toSpecification() (*spec.Specification, error) {
	nets := make(map[string]*spec.Net, len(d.Nets))
	for _, nd := range d.Nets {
		tasks := make([]*spec.Task, 0, len(nd.Tasks))
		for _, td := range nd.Tasks {
			tasks = append(tasks, td.toTask())
		}
		conditions := make([]*spec.Condition, 0, len(nd.Conditions))
		for _, cd := range nd.Conditions {
			conditions = append(conditions, &spec.Condition{
				Node:     spec.Node{ID: cd.ID, Name: cd.Name},
				IsInput:  cd.IsInput,
				IsOutput: cd.IsOutput,
			})
		}
		flows := make([]*spec.Flow, 0, len(nd.Flows))
		for _, fd := range nd.Flows {
			flows = append(flows, &spec.Flow{
				ID:        fd.ID,
				Source:    fd.Source,
				Target:    fd.Target,
				Predicate: fd.Predicate,
				IsDefault: fd.IsDefault,
				Rank:      fd.Rank,
			})
		}
		nets[nd.ID] = spec.NewNet(nd.ID, nd.Name, nd.InputConditionID, nd.OutputConditionID, tasks, conditions, flows)
	}

	if _, ok := nets[d.RootNetID]; !ok {
		return nil, &yawlerr.SpecificationError{NodeID: d.RootNetID, Detail: "root net not present among submitted nets"}
	}

	return &spec.Specification{
		URI:       d.URI,
		Version:   d.Version,
		RootNetID: d.RootNetID,
		Nets:      nets,
	}, nil
}

func (td *taskDoc) toTask() *spec.Task {
	t := &spec.Task{
		Node:  spec.Node{ID: td.ID, Name: td.Name},
		Join:  spec.JoinType(td.Join),
		Split: spec.SplitType(td.Split),
		Decomposition: spec.Decomposition{
			Kind:       spec.DecompositionKind(td.Decomposition.Kind),
			HandlerRef: td.Decomposition.HandlerRef,
			SubNetRef:  td.Decomposition.SubNetRef,
		},
		CancellationRegion:  td.CancellationRegion,
		DataMapping:         spec.DataMapping{Input: td.DataMapping.Input, Output: td.DataMapping.Output},
		OrJoinDepthOverride: td.OrJoinDepthOverride,
	}
	if td.MultiInstance != nil {
		m := td.MultiInstance
		t.MultiInstance = &spec.MultiInstance{
			Min:                m.Min,
			Max:                m.Max,
			Threshold:          m.Threshold,
			CreationMode:       spec.CreationMode(m.CreationMode),
			ContinuationPolicy: spec.ContinuationPolicy(m.ContinuationPolicy),
			Accessor:           m.Accessor,
			Splitter:           m.Splitter,
			Aggregator:         m.Aggregator,
			OrderedByCreation:  m.OrderedByCreation,
		}
	}
	if td.Timer != nil {
		t.Timer = &spec.Timer{
			Expression: td.Timer.Expression,
			Policy:     spec.TimerPolicy(td.Timer.Policy),
			FireAt:     td.Timer.FireAt,
		}
	}
	return t
}
