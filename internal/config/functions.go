package config

import (
	"fmt"
	"os"

	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/coordinator"
	"github.com/tzrouter/gateway/internal/embed"
	"github.com/tzrouter/gateway/internal/router"
	"github.com/tzrouter/gateway/internal/routing"
	"github.com/tzrouter/gateway/internal/variant"
)

// buildFunctions turns the configured function/variant tree into
// coordinator.FunctionConfig, compiling each function's routing policy
// file (if any) and resolving every variant's VariantFactory, including
// best-of-n/mixture-of-n's nested candidates.
func buildFunctions(
	cfgs map[string]FunctionConfig,
	templates map[string]string,
	models map[string]router.Model,
	emb variant.Embedder,
	exampleBase *embed.Store,
) (map[string]coordinator.FunctionConfig, []*routing.Policy, error) {
	renderer := newTemplateRenderer()
	for name, body := range templates {
		if err := renderer.register(name, body); err != nil {
			return nil, nil, err
		}
	}

	out := make(map[string]coordinator.FunctionConfig, len(cfgs))
	var policies []*routing.Policy

	for name, fc := range cfgs {
		var policy *routing.Policy
		if fc.RoutingPolicyFile != "" {
			body, err := os.ReadFile(fc.RoutingPolicyFile)
			if err != nil {
				return nil, nil, fmt.Errorf("config: function %q: reading routing policy file: %w", name, err)
			}
			policy, err = routing.Compile(string(body))
			if err != nil {
				return nil, nil, fmt.Errorf("config: function %q: compiling routing policy: %w", name, err)
			}
			policies = append(policies, policy)
		}

		variants := make(map[string]coordinator.VariantDef, len(fc.Variants))
		for vname, vc := range fc.Variants {
			if err := registerVariantTemplates(renderer, vname, vc); err != nil {
				return nil, nil, fmt.Errorf("config: function %q: %w", name, err)
			}
		}

		ft := toFunctionType(fc.Type)
		for vname, vc := range fc.Variants {
			factory, err := buildVariantFactory(name, vname, vc, fc.Variants, ft, models, emb, exampleBase, renderer)
			if err != nil {
				return nil, nil, err
			}
			variants[vname] = coordinator.VariantDef{
				Factory: factory,
				Weight:  vc.Weight,
				Retry:   toRetryConfig(vc.Retry),
			}
		}

		out[name] = coordinator.FunctionConfig{
			Name:          name,
			Type:          ft,
			Variants:      variants,
			ToolConfig:    toToolConfig(fc.ToolConfig),
			OutputSchema:  fc.OutputSchema,
			RoutingPolicy: policy,
		}
	}

	return out, policies, nil
}

func registerVariantTemplates(renderer *templateRenderer, vname string, vc VariantConfig) error {
	for _, t := range []string{vc.SystemTemplate, vc.UserTemplate, vc.AssistantTemplate, vc.EvaluatorTemplate} {
		if t == "" {
			continue
		}
		if _, ok := renderer.templates[t]; ok {
			continue
		}
		return fmt.Errorf("variant %q references unregistered template %q (add it under top-level templates)", vname, t)
	}
	return nil
}

// buildVariantFactory returns the VariantFactory for one configured
// variant. best_of_n/mixture_of_n resolve their named candidates against
// the sibling variants of the same function, recursing through this same
// function — a candidate may itself be any variant kind, including
// another ensemble.
func buildVariantFactory(
	fnName, vname string,
	vc VariantConfig,
	siblings map[string]VariantConfig,
	ft content.FunctionType,
	models map[string]router.Model,
	emb variant.Embedder,
	exampleBase *embed.Store,
	renderer *templateRenderer,
) (coordinator.VariantFactory, error) {
	base := variant.RequestOptions{FunctionType: ft, JSONMode: content.JSONModeOff}

	switch vc.Type {
	case "chat_completion", "":
		model, ok := models[vc.Model]
		if !ok {
			return nil, fmt.Errorf("config: function %q variant %q references unknown model %q", fnName, vname, vc.Model)
		}
		return func(route variant.RouteFunc, ov coordinator.CallOverrides) variant.Variant {
			return &variant.ChatCompletionVariant{
				VariantName:       vname,
				Model:             model,
				Options:           coordinator.MergeOptions(base, ov),
				SystemTemplate:    vc.SystemTemplate,
				UserTemplate:      vc.UserTemplate,
				AssistantTemplate: vc.AssistantTemplate,
				Renderer:          renderer,
				Route:             route,
			}
		}, nil

	case "dicl":
		model, ok := models[vc.Model]
		if !ok {
			return nil, fmt.Errorf("config: function %q variant %q references unknown model %q", fnName, vname, vc.Model)
		}
		if emb == nil || exampleBase == nil {
			return nil, fmt.Errorf("config: function %q variant %q is dicl but embeddings are not configured", fnName, vname)
		}
		store := &embed.NamespacedStore{Store: exampleBase, Namespace: fnName + "/" + vname}
		return func(route variant.RouteFunc, ov coordinator.CallOverrides) variant.Variant {
			return &variant.DICLVariant{
				VariantName: vname,
				Model:       model,
				Options:     coordinator.MergeOptions(base, ov),
				Embedder:    emb,
				Store:       store,
				K:           vc.K,
				Route:       route,
			}
		}, nil

	case "best_of_n":
		candidateFactories, err := resolveCandidates(fnName, vc.Candidates, siblings, ft, models, emb, exampleBase, renderer)
		if err != nil {
			return nil, err
		}
		evalModel, ok := models[vc.EvaluatorModel]
		if !ok {
			return nil, fmt.Errorf("config: function %q variant %q references unknown evaluator model %q", fnName, vname, vc.EvaluatorModel)
		}
		return func(route variant.RouteFunc, ov coordinator.CallOverrides) variant.Variant {
			candidates := make([]variant.Variant, len(candidateFactories))
			for i, f := range candidateFactories {
				candidates[i] = f(route, ov)
			}
			return &variant.BestOfNVariant{
				VariantName: vname,
				Candidates:  candidates,
				Judge:       newJudge(evalModel, vc.EvaluatorTemplate, renderer),
			}
		}, nil

	case "mixture_of_n":
		candidateFactories, err := resolveCandidates(fnName, vc.Candidates, siblings, ft, models, emb, exampleBase, renderer)
		if err != nil {
			return nil, err
		}
		evalModel, ok := models[vc.EvaluatorModel]
		if !ok {
			return nil, fmt.Errorf("config: function %q variant %q references unknown evaluator model %q", fnName, vname, vc.EvaluatorModel)
		}
		return func(route variant.RouteFunc, ov coordinator.CallOverrides) variant.Variant {
			candidates := make([]variant.Variant, len(candidateFactories))
			for i, f := range candidateFactories {
				candidates[i] = f(route, ov)
			}
			return &variant.MixtureOfNVariant{
				VariantName: vname,
				Candidates:  candidates,
				Fuser:       newFuser(evalModel, vc.EvaluatorTemplate, renderer),
			}
		}, nil

	default:
		return nil, fmt.Errorf("config: function %q variant %q has unknown type %q", fnName, vname, vc.Type)
	}
}

func resolveCandidates(
	fnName string,
	names []string,
	siblings map[string]VariantConfig,
	ft content.FunctionType,
	models map[string]router.Model,
	emb variant.Embedder,
	exampleBase *embed.Store,
	renderer *templateRenderer,
) ([]coordinator.VariantFactory, error) {
	out := make([]coordinator.VariantFactory, 0, len(names))
	for _, cname := range names {
		cvc, ok := siblings[cname]
		if !ok {
			return nil, fmt.Errorf("config: function %q references unknown candidate variant %q", fnName, cname)
		}
		f, err := buildVariantFactory(fnName, cname, cvc, siblings, ft, models, emb, exampleBase, renderer)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
