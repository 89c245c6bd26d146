package labeler

import (
	"fmt"
	"regexp"

	"vkbox/internal/model"
	"vkbox/internal/rules"
)

// builtinRules is the default shorthand registry. The "text" entry needs
// the labeler's pattern matcher, so constructors close over the instance.
func builtinRules(l *Labeler) map[string]RuleConstructor {
	return map[string]RuleConstructor{
		"command": func(v interface{}) (rules.Rule, error) {
			texts, err := asStrings(v)
			if err != nil {
				return nil, err
			}
			cmds := make([]rules.Rule, len(texts))
			for i, t := range texts {
				cmds[i] = rules.Command(t)
			}
			if len(cmds) == 1 {
				return cmds[0], nil
			}
			return rules.Or(cmds...), nil
		},
		"text": func(v interface{}) (rules.Rule, error) {
			if l.matcher == nil {
				return nil, fmt.Errorf("no pattern matcher configured")
			}
			patterns, err := asStrings(v)
			if err != nil {
				return nil, err
			}
			return rules.Template(l.matcher, patterns...), nil
		},
		"regexp": func(v interface{}) (rules.Rule, error) {
			raw, err := asStrings(v)
			if err != nil {
				return nil, err
			}
			exps := make([]*regexp.Regexp, len(raw))
			for i, r := range raw {
				exp, err := regexp.Compile(r)
				if err != nil {
					return nil, fmt.Errorf("bad expression %q: %w", r, err)
				}
				exps[i] = exp
			}
			return rules.Regexp(exps...), nil
		},
		"from_chat": func(v interface{}) (rules.Rule, error) {
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("want bool, got %T", v)
			}
			return rules.Peer(b), nil
		},
		"from_user": func(v interface{}) (rules.Rule, error) {
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("want bool, got %T", v)
			}
			return rules.FromUser(b), nil
		},
		"peer_ids": func(v interface{}) (rules.Rule, error) {
			ids, err := asInt64s(v)
			if err != nil {
				return nil, err
			}
			return rules.PeerIDs(ids...), nil
		},
		"sticker": func(v interface{}) (rules.Rule, error) {
			if b, ok := v.(bool); ok && b {
				return rules.Sticker(), nil
			}
			ids, err := asInts(v)
			if err != nil {
				return nil, err
			}
			return rules.Sticker(ids...), nil
		},
		"attachment": func(v interface{}) (rules.Rule, error) {
			raw, err := asStrings(v)
			if err != nil {
				return nil, err
			}
			types := make([]model.AttachmentType, len(raw))
			for i, t := range raw {
				types[i] = model.AttachmentType(t)
			}
			return rules.AttachmentType(types...), nil
		},
		"levenshtein": func(v interface{}) (rules.Rule, error) {
			texts, err := asStrings(v)
			if err != nil {
				return nil, err
			}
			return rules.Levenshtein(1, texts...), nil
		},
		"length": func(v interface{}) (rules.Rule, error) {
			n, err := asInt(v)
			if err != nil {
				return nil, err
			}
			return rules.MinLength(n), nil
		},
		"action": func(v interface{}) (rules.Rule, error) {
			types, err := asStrings(v)
			if err != nil {
				return nil, err
			}
			return rules.ChatAction(types...), nil
		},
		"state": func(v interface{}) (rules.Rule, error) {
			switch s := v.(type) {
			case rules.StateID:
				return rules.StateIs(s), nil
			case []rules.StateID:
				return rules.StateIs(s...), nil
			default:
				return nil, fmt.Errorf("want StateID or []StateID, got %T", v)
			}
		},
		"state_group": func(v interface{}) (rules.Rule, error) {
			groups, err := asStrings(v)
			if err != nil {
				return nil, err
			}
			return rules.StateGroup(groups...), nil
		},
		"payload": func(v interface{}) (rules.Rule, error) {
			m, ok := v.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("want map, got %T", v)
			}
			return rules.PayloadExact(m), nil
		},
		"payload_contains": func(v interface{}) (rules.Rule, error) {
			m, ok := v.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("want map, got %T", v)
			}
			return rules.PayloadContains(m), nil
		},
		"func": func(v interface{}) (rules.Rule, error) {
			f, ok := v.(rules.Func)
			if !ok {
				return nil, fmt.Errorf("want rules.Func, got %T", v)
			}
			return f, nil
		},
	}
}

func asStrings(v interface{}) ([]string, error) {
	switch s := v.(type) {
	case string:
		return []string{s}, nil
	case []string:
		return s, nil
	default:
		return nil, fmt.Errorf("want string or []string, got %T", v)
	}
}

func asInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("want int, got %T", v)
	}
}

func asInts(v interface{}) ([]int, error) {
	switch n := v.(type) {
	case int:
		return []int{n}, nil
	case []int:
		return n, nil
	default:
		return nil, fmt.Errorf("want int or []int, got %T", v)
	}
}

func asInt64s(v interface{}) ([]int64, error) {
	switch n := v.(type) {
	case int64:
		return []int64{n}, nil
	case []int64:
		return n, nil
	case int:
		return []int64{int64(n)}, nil
	case []int:
		out := make([]int64, len(n))
		for i, x := range n {
			out[i] = int64(x)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("want int64 or []int64, got %T", v)
	}
}
