package xstate

import (
	"fmt"
	"sort"
	"strings"
)

// StateKind classifies a state node.
type StateKind int

const (
	// KindAtomic is a leaf state
	KindAtomic StateKind = iota
	// KindCompound holds child states with exactly one active at a time
	KindCompound
	// KindParallel holds orthogonal regions, all active together
	KindParallel
	// KindFinal marks completion of its parent
	KindFinal
	// KindHistory recalls the previously active descendants of its parent
	KindHistory
)

func (k StateKind) String() string {
	switch k {
	case KindAtomic:
		return "atomic"
	case KindCompound:
		return "compound"
	case KindParallel:
		return "parallel"
	case KindFinal:
		return "final"
	case KindHistory:
		return "history"
	}
	return "unknown"
}

// HistoryDepth selects how much of the previously active value a
// history node recalls.
type HistoryDepth int

const (
	// HistoryShallow recalls only the immediate child key
	HistoryShallow HistoryDepth = iota
	// HistoryDeep recalls the full descendant value
	HistoryDeep
)

// historyKey is the implicit child key used by "$history" targets.
const historyKey = "$history"

// StateNode is one node of the state tree built from a machine
// configuration. Nodes are immutable after construction; the per-node
// cache slots are write-once.
type StateNode struct {
	// Key is the local name under the parent
	Key string
	// ID is the globally unique identifier
	ID string
	// Path is the key sequence from the root (exclusive) to this node
	Path []string
	// Kind classifies the node
	Kind StateKind
	// Initial names the default child of a compound node
	Initial string
	// Depth selects shallow or deep recall on history nodes
	Depth HistoryDepth
	// Entry and Exit run when the node is entered or exited
	Entry []Action
	Exit  []Action
	// Activities are started on entry and stopped on exit
	Activities []*Activity
	// Transitions handled by this node, in tie-breaking order
	Transitions []*Transition
	// Meta is the annotation from the configuration
	Meta any
	// DoneData is the done-event payload of a final node
	DoneData any
	// Parent is nil only on the root
	Parent *StateNode
	// Children maps child keys to nodes
	Children map[string]*StateNode
	// Order is the document-order index used for exit/entry ordering
	Order int

	machine       *StateMachine
	childKeys     []string
	historyTarget string
	defaultTarget *StateNode
	transient     bool

	// write-once cache slots
	initialValueCache StateValue
	initialValueSet   bool
}

func (n *StateNode) String() string {
	return fmt.Sprintf("#%s (%s)", n.ID, n.Kind)
}

func (n *StateNode) delimiter() string {
	return n.machine.delimiter
}

// ChildKeys returns the child keys in document order.
func (n *StateNode) ChildKeys() []string {
	return n.childKeys
}

// OrderedChildren returns the child nodes in document order.
func (n *StateNode) OrderedChildren() []*StateNode {
	out := make([]*StateNode, 0, len(n.childKeys))
	for _, key := range n.childKeys {
		out = append(out, n.Children[key])
	}
	return out
}

// Child returns the child with the given key, failing with a
// StateError when it does not exist.
func (n *StateNode) Child(key string) (*StateNode, error) {
	child, ok := n.Children[key]
	if !ok {
		return nil, NewStateNotFoundError(n.ID + n.delimiter() + key)
	}
	return child, nil
}

// StateByPath resolves a relative path (dotted string or segment
// sequence) against this node's descendants.
func (n *StateNode) StateByPath(path any) (*StateNode, error) {
	var segments []string
	switch p := path.(type) {
	case string:
		segments = strings.Split(p, n.delimiter())
	case []string:
		segments = p
	default:
		return nil, fmt.Errorf("cannot interpret %T as a state path", path)
	}
	current := n
	for _, segment := range segments {
		child, err := current.Child(segment)
		if err != nil {
			return nil, err
		}
		current = child
	}
	return current, nil
}

// isAncestorOf reports whether n is a proper ancestor of other.
func (n *StateNode) isAncestorOf(other *StateNode) bool {
	for p := other.Parent; p != nil; p = p.Parent {
		if p == n {
			return true
		}
	}
	return false
}

// LCA returns the least common ancestor of this node and another.
func (n *StateNode) LCA(other *StateNode) *StateNode {
	return lca(n, other)
}

// lca returns the least common ancestor of two nodes, or the node
// itself when one is an ancestor of (or equal to) the other.
func lca(a, b *StateNode) *StateNode {
	seen := make(map[*StateNode]bool)
	for n := a; n != nil; n = n.Parent {
		seen[n] = true
	}
	for n := b; n != nil; n = n.Parent {
		if seen[n] {
			return n
		}
	}
	return nil
}

// historyChildren returns the history children of the node in document
// order.
func (n *StateNode) historyChildren() []*StateNode {
	var out []*StateNode
	for _, key := range n.childKeys {
		if child := n.Children[key]; child.Kind == KindHistory {
			out = append(out, child)
		}
	}
	return out
}

// initialStateValue is the value entered when the node is entered
// without an explicit descendant. The result is cached write-once.
func (n *StateNode) initialStateValue() StateValue {
	if n.initialValueSet {
		return n.initialValueCache
	}
	var value StateValue
	switch n.Kind {
	case KindCompound:
		child := n.Children[n.Initial]
		sub := child.initialStateValue()
		if sub == nil {
			value = child.Key
		} else {
			value = map[string]StateValue{child.Key: sub}
		}
	case KindParallel:
		m := make(map[string]StateValue, len(n.childKeys))
		for _, key := range n.childKeys {
			child := n.Children[key]
			if child.Kind == KindHistory {
				continue
			}
			m[key] = child.initialStateValue()
		}
		value = m
	default:
		value = nil
	}
	n.initialValueCache = value
	n.initialValueSet = true
	return value
}

// buildNode constructs the subtree for one state configuration,
// assigning document-order indices depth-first.
func (m *StateMachine) buildNode(key string, cfg *StateConfig, parent *StateNode) (*StateNode, error) {
	node := &StateNode{
		Key:      key,
		Kind:     inferKind(cfg),
		Initial:  cfg.Initial,
		Meta:     cfg.Meta,
		DoneData: cfg.Data,
		Parent:   parent,
		Children: make(map[string]*StateNode),
		Order:    m.nextOrder(),
		machine:  m,
	}
	if parent != nil {
		node.Path = make([]string, 0, len(parent.Path)+1)
		node.Path = append(node.Path, parent.Path...)
		node.Path = append(node.Path, key)
	}
	node.ID = cfg.ID
	if node.ID == "" {
		node.ID = strings.Join(append([]string{m.key}, node.Path...), m.delimiter)
	}
	if _, dup := m.idMap[node.ID]; dup {
		return nil, NewConfigurationError(node.ID, "duplicate state id")
	}
	m.idMap[node.ID] = node

	switch node.Kind {
	case KindHistory:
		if len(cfg.States) > 0 {
			return nil, NewConfigurationError(node.ID, "history states cannot declare children")
		}
		switch cfg.History {
		case "", "shallow":
			node.Depth = HistoryShallow
		case "deep":
			node.Depth = HistoryDeep
		default:
			return nil, NewConfigurationError(node.ID, fmt.Sprintf("unknown history depth '%s'", cfg.History))
		}
		node.historyTarget = cfg.Target
	case KindParallel:
		if cfg.Initial != "" {
			return nil, NewConfigurationError(node.ID, "parallel states cannot declare an initial child")
		}
	}

	entry, err := toActions(cfg.Entry)
	if err != nil {
		return nil, NewConfigurationError(node.ID, err.Error())
	}
	node.Entry = stampOwner(entry, node.ID)
	exit, err := toActions(cfg.Exit)
	if err != nil {
		return nil, NewConfigurationError(node.ID, err.Error())
	}
	node.Exit = stampOwner(exit, node.ID)
	for _, a := range cfg.Activities {
		activity, err := newActivity(a)
		if err != nil {
			return nil, NewConfigurationError(node.ID, err.Error())
		}
		node.Activities = append(node.Activities, activity)
	}

	childKeys := make([]string, 0, len(cfg.States))
	for childKey := range cfg.States {
		childKeys = append(childKeys, childKey)
	}
	sort.Strings(childKeys)
	node.childKeys = childKeys
	for _, childKey := range childKeys {
		child, err := m.buildNode(childKey, cfg.States[childKey], node)
		if err != nil {
			return nil, err
		}
		node.Children[childKey] = child
	}

	switch node.Kind {
	case KindCompound:
		if node.Initial == "" {
			return nil, NewConfigurationError(node.ID, "compound state must declare an initial child")
		}
		if _, ok := node.Children[node.Initial]; !ok {
			return nil, NewConfigurationError(node.ID, fmt.Sprintf("initial child '%s' does not exist", node.Initial))
		}
	case KindParallel:
		for _, key := range node.childKeys {
			child := node.Children[key]
			if child.Kind == KindHistory {
				continue
			}
			if child.Kind != KindCompound && child.Kind != KindParallel {
				return nil, NewConfigurationError(node.ID,
					fmt.Sprintf("region '%s' must be a compound or parallel state", child.Key))
			}
		}
	}

	return node, nil
}

// inferKind determines the node kind from an explicit type or the
// presence of children.
func inferKind(cfg *StateConfig) StateKind {
	switch cfg.Type {
	case "compound":
		return KindCompound
	case "parallel":
		return KindParallel
	case "final":
		return KindFinal
	case "history":
		return KindHistory
	case "atomic":
		return KindAtomic
	}
	if len(cfg.States) > 0 {
		return KindCompound
	}
	return KindAtomic
}

// buildTransitions runs the second construction pass: with the whole
// tree in place, targets are resolved, delayed transitions and
// invocations are lowered, and per-node candidate lists are fixed.
func (m *StateMachine) buildTransitions(node *StateNode, cfg *StateConfig) error {
	on := make(map[string]any, len(cfg.On))
	for eventType, raw := range cfg.On {
		on[eventType] = raw
	}

	// Lower "after" into entry-scheduled sends, exit-scheduled cancels
	// and transitions on the synthetic event type.
	afterKeys := make([]string, 0, len(cfg.After))
	for key := range cfg.After {
		afterKeys = append(afterKeys, key)
	}
	sort.Strings(afterKeys)
	for _, key := range afterKeys {
		ms, name := parseDelay(key)
		eventType := afterEvent(key, node.ID)
		send := Send(Event{Type: eventType}).WithID(eventType)
		if name != "" {
			send = send.WithDelayName(name)
		} else {
			send = send.WithDelay(Duration(ms))
		}
		send.owner = node.ID
		cancel := Cancel(eventType)
		cancel.owner = node.ID
		node.Entry = append(node.Entry, send)
		node.Exit = append(node.Exit, cancel)
		on[eventType] = cfg.After[key]
	}

	// Lower invocations into start/stop activities plus done/error
	// transitions.
	for i := range cfg.Invoke {
		inv := cfg.Invoke[i]
		if inv.Src == "" {
			return NewConfigurationError(node.ID, "invoke requires a src")
		}
		id := inv.ID
		if id == "" {
			id = newInvocationID()
		}
		activity := &Activity{Type: inv.Src, ID: id, Src: inv.Src, Data: inv.Data}
		node.Activities = append(node.Activities, activity)
		if inv.OnDone != nil {
			on[doneInvokeEvent(id)] = inv.OnDone
		}
		if inv.OnError != nil {
			on[errorInvokeEvent(id)] = inv.OnError
		}
	}

	order := 0
	for _, eventType := range eventTypesInOrder(on) {
		configs, err := toTransitionConfigs(on[eventType])
		if err != nil {
			return NewConfigurationError(node.ID, err.Error())
		}
		for _, tc := range configs {
			transition, err := m.newTransition(node, eventType, tc, order)
			if err != nil {
				return err
			}
			node.Transitions = append(node.Transitions, transition)
			order++
		}
	}
	node.transient = false
	for _, t := range node.Transitions {
		if t.EventType == NullEventType {
			node.transient = true
			break
		}
	}

	for _, key := range node.childKeys {
		childCfg := cfg.States[key]
		if childCfg == nil {
			// Implicit history children have no configuration.
			continue
		}
		if err := m.buildTransitions(node.Children[key], childCfg); err != nil {
			return err
		}
	}
	return nil
}

// newTransition resolves one transition configuration on a node.
func (m *StateMachine) newTransition(node *StateNode, eventType string, tc TransitionConfig, order int) (*Transition, error) {
	guard, err := toGuard(tc.Cond)
	if err != nil {
		return nil, NewConfigurationError(node.ID, err.Error())
	}
	actions, err := toActions(tc.Actions)
	if err != nil {
		return nil, NewConfigurationError(node.ID, err.Error())
	}
	transition := &Transition{
		EventType:   eventType,
		Source:      node,
		TargetPaths: tc.Target,
		Guard:       guard,
		In:          tc.In,
		Actions:     stampOwner(actions, node.ID),
		Internal:    tc.Internal,
		Order:       order,
	}
	for _, path := range tc.Target {
		target, err := m.resolveTarget(node, path)
		if err != nil {
			return nil, err
		}
		transition.Targets = append(transition.Targets, target)
	}
	// A leading-delimiter target addresses a descendant of the source;
	// such transitions default to internal semantics.
	if !transition.Internal && len(tc.Target) > 0 && allDescendants(node, transition.Targets) {
		leading := true
		for _, path := range tc.Target {
			if !strings.HasPrefix(path, m.delimiter) {
				leading = false
				break
			}
		}
		transition.Internal = leading
	}
	for _, target := range transition.Targets {
		if err := m.checkRegionBoundary(node, target); err != nil {
			return nil, err
		}
	}
	return transition, nil
}

// stampOwner tags actions with the id of the node they are declared on
// so evaluation failures can name their source.
func stampOwner(actions []Action, owner string) []Action {
	for i := range actions {
		actions[i].owner = owner
	}
	return actions
}

// allDescendants reports whether every target is a proper descendant of
// the source.
func allDescendants(source *StateNode, targets []*StateNode) bool {
	for _, target := range targets {
		if !source.isAncestorOf(target) {
			return false
		}
	}
	return len(targets) > 0
}

// checkRegionBoundary rejects transitions whose source and target live
// in different regions of the same parallel state.
func (m *StateMachine) checkRegionBoundary(source, target *StateNode) error {
	common := lca(source, target)
	if common == nil || common.Kind != KindParallel {
		return nil
	}
	if common == source || common == target {
		return nil
	}
	return NewConfigurationError(source.ID,
		fmt.Sprintf("transition target '%s' crosses into a sibling region of parallel state '%s'",
			target.ID, common.ID))
}

// resolveTarget resolves a declared target path against the tree,
// honoring the resolution policy: "#id" is absolute, a leading
// delimiter is relative to the source node, otherwise the path is
// resolved against the source's parent, then the root, then the id map.
// A "$history" segment names the history child of the node resolved so
// far, creating an implicit shallow history node when none is declared.
func (m *StateMachine) resolveTarget(source *StateNode, target string) (*StateNode, error) {
	fail := func() error {
		return NewConfigurationError(source.ID, fmt.Sprintf("target '%s' cannot be resolved", target))
	}
	if target == "" {
		return nil, fail()
	}
	if strings.HasPrefix(target, "#") {
		rest := strings.TrimPrefix(target, "#")
		segments := strings.Split(rest, m.delimiter)
		node, ok := m.idMap[segments[0]]
		if !ok {
			// Ids may themselves contain the delimiter; try the whole
			// string before walking segments.
			if whole, ok := m.idMap[rest]; ok {
				return whole, nil
			}
			return nil, fail()
		}
		return m.descendSegments(node, segments[1:], fail)
	}
	if strings.HasPrefix(target, m.delimiter) {
		segments := strings.Split(strings.TrimPrefix(target, m.delimiter), m.delimiter)
		return m.descendSegments(source, segments, fail)
	}
	segments := strings.Split(target, m.delimiter)
	scope := source.Parent
	if scope == nil {
		scope = source
	}
	if node, err := m.descendSegments(scope, segments, fail); err == nil {
		return node, nil
	}
	if node, err := m.descendSegments(m.root, segments, fail); err == nil {
		return node, nil
	}
	if node, ok := m.idMap[target]; ok {
		return node, nil
	}
	return nil, fail()
}

// descendSegments walks child keys from a node, materializing implicit
// history children for "$history" segments.
func (m *StateMachine) descendSegments(node *StateNode, segments []string, fail func() error) (*StateNode, error) {
	current := node
	for _, segment := range segments {
		if segment == historyKey {
			history, err := m.historyChildOf(current)
			if err != nil {
				return nil, fail()
			}
			current = history
			continue
		}
		child, ok := current.Children[segment]
		if !ok {
			return nil, fail()
		}
		current = child
	}
	return current, nil
}

// historyChildOf returns the first declared history child of a node,
// creating an implicit shallow one when the node has none.
func (m *StateMachine) historyChildOf(node *StateNode) (*StateNode, error) {
	if node.Kind != KindCompound && node.Kind != KindParallel {
		return nil, fmt.Errorf("state '%s' cannot have history", node.ID)
	}
	if existing := node.historyChildren(); len(existing) > 0 {
		return existing[0], nil
	}
	history := &StateNode{
		Key:      historyKey,
		ID:       node.ID + m.delimiter + historyKey,
		Kind:     KindHistory,
		Depth:    HistoryShallow,
		Parent:   node,
		Children: make(map[string]*StateNode),
		Order:    m.nextOrder(),
		machine:  m,
	}
	history.Path = make([]string, 0, len(node.Path)+1)
	history.Path = append(history.Path, node.Path...)
	history.Path = append(history.Path, historyKey)
	m.idMap[history.ID] = history
	node.Children[historyKey] = history
	node.childKeys = append(node.childKeys, historyKey)
	return history, nil
}

// resolveHistoryDefaults runs after all transitions are built so that
// declared history default targets can refer to any node.
func (m *StateMachine) resolveHistoryDefaults(node *StateNode) error {
	if node.Kind == KindHistory && node.historyTarget != "" {
		target, err := m.resolveTarget(node, node.historyTarget)
		if err != nil {
			return err
		}
		node.defaultTarget = target
	}
	for _, key := range node.childKeys {
		if err := m.resolveHistoryDefaults(node.Children[key]); err != nil {
			return err
		}
	}
	return nil
}
