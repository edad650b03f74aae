package bot

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"feedfilter/internal/model"
	"feedfilter/internal/settings"
)

// minIDPrefix is the shortest rule ID prefix accepted in commands.
const minIDPrefix = 4

var handleArg = regexp.MustCompile(`^@?[A-Za-z0-9_]{1,15}$`)

// RuleArgs holds the parsed arguments of /addrule.
type RuleArgs struct {
	Type     model.RuleType
	Name     string
	Keywords []string
}

// ParseRuleCommand parses arguments for /addrule.
// Format: <type> [name...] [| keyword, keyword]
func ParseRuleCommand(args string) (RuleArgs, error) {
	head, kw, hasKeywords := strings.Cut(args, "|")
	parts := strings.Fields(head)
	if len(parts) == 0 {
		return RuleArgs{}, fmt.Errorf("usage: /addrule <type> [name] [| keyword, keyword]")
	}

	typ := model.RuleType(strings.ToLower(parts[0]))
	if !typ.Known() {
		names := make([]string, len(model.RuleTypes))
		for i, t := range model.RuleTypes {
			names[i] = string(t)
		}
		return RuleArgs{}, fmt.Errorf("unknown rule type %q, use: %s", parts[0], strings.Join(names, ", "))
	}

	out := RuleArgs{Type: typ, Name: strings.Join(parts[1:], " ")}
	if out.Name == "" {
		out.Name = typ.Label()
	}
	if typ.UsesKeywords() {
		if hasKeywords {
			out.Keywords = settings.ParseKeywords(kw)
		}
		if len(out.Keywords) == 0 {
			return RuleArgs{}, fmt.Errorf("keyword rules need at least one keyword after |")
		}
	}
	return out, nil
}

// ResolveRule finds the rule whose ID equals arg or starts with it. Prefixes
// must be unambiguous and at least minIDPrefix long.
func ResolveRule(rules []model.Rule, arg string) (model.Rule, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return model.Rule{}, fmt.Errorf("rule ID is required")
	}
	var found []model.Rule
	for _, r := range rules {
		if r.ID == arg {
			return r, nil
		}
		if len(arg) >= minIDPrefix && strings.HasPrefix(r.ID, arg) {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 0:
		return model.Rule{}, fmt.Errorf("rule %q: %w", arg, settings.ErrRuleNotFound)
	case 1:
		return found[0], nil
	default:
		return model.Rule{}, fmt.Errorf("rule ID %q is ambiguous", arg)
	}
}

// ParseHandle validates an @username argument and returns it with the @.
func ParseHandle(args string) (string, error) {
	s := strings.TrimSpace(args)
	if !handleArg.MatchString(s) {
		return "", fmt.Errorf("usage: @username")
	}
	return "@" + strings.TrimPrefix(s, "@"), nil
}

var errSwitch = errors.New("use on or off")

// ParseSwitch reads an on/off argument.
func ParseSwitch(args string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "on", "yes", "true":
		return true, nil
	case "off", "no", "false":
		return false, nil
	default:
		return false, errSwitch
	}
}

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("source ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid source ID %q", s)
	}
	return id, nil
}

// ParseRenameArgs extracts a source ID and new name from command arguments.
func ParseRenameArgs(args string) (int64, string, error) {
	parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
	if len(parts) < 2 {
		return 0, "", fmt.Errorf("usage: /rename <id> <new_name>")
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid source ID %q", parts[0])
	}
	name := strings.TrimSpace(parts[1])
	if name == "" {
		return 0, "", fmt.Errorf("new name cannot be empty")
	}
	return id, name, nil
}

// ParseIntervalArgs extracts a source ID and interval in minutes.
func ParseIntervalArgs(args string) (int64, int, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("usage: /interval <id> <minutes>")
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid source ID %q", parts[0])
	}
	mins, err := strconv.Atoi(parts[1])
	if err != nil || mins < 1 || mins > 1440 {
		return 0, 0, fmt.Errorf("interval must be between 1 and 1440 minutes")
	}
	return id, mins, nil
}
