package xstate

import (
	"fmt"
	"sort"
	"time"
)

// InitEventType is the event type carried by the initial state.
const InitEventType = "xstate.init"

// Options holds the named registries consumed by the engine plus
// machine-level tuning. Entries are resolved lazily: a name is looked
// up when the transition that references it fires.
type Options struct {
	// Guards resolves named guard conditions
	Guards map[string]GuardFunc
	// Actions resolves named custom actions
	Actions map[string]ActionFunc
	// Services resolves invocation sources
	Services map[string]any
	// Activities resolves named activities
	Activities map[string]any
	// Delays resolves named send delays to a time.Duration or a
	// func(Context, Event) time.Duration
	Delays map[string]any
	// Logger replaces the diagnostic sink
	Logger Logger
	// TransientLimit overrides the microstep bound
	TransientLimit int
}

// merge overlays other onto the receiver, returning a new Options.
func (o Options) merge(other Options) Options {
	out := Options{
		Guards:     mergeMap(o.Guards, other.Guards),
		Actions:    mergeMap(o.Actions, other.Actions),
		Services:   mergeMap(o.Services, other.Services),
		Activities: mergeMap(o.Activities, other.Activities),
		Delays:     mergeMap(o.Delays, other.Delays),
		Logger:     o.Logger,
	}
	if other.Logger != nil {
		out.Logger = other.Logger
	}
	out.TransientLimit = o.TransientLimit
	if other.TransientLimit > 0 {
		out.TransientLimit = other.TransientLimit
	}
	return out
}

func mergeMap[V any](a, b map[string]V) map[string]V {
	if a == nil && b == nil {
		return nil
	}
	out := make(map[string]V, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// StateMachine is an immutable statechart: a state-node tree plus the
// options registries. Transition is a pure function; all mutable data
// lives in the State values it returns.
type StateMachine struct {
	key            string
	delimiter      string
	strict         bool
	context        Context
	options        Options
	logger         Logger
	transientLimit int

	root         *StateNode
	idMap        map[string]*StateNode
	orderCounter int
	config       *MachineConfig

	// write-once cache
	alphabetCache map[string]bool
}

// Machine builds a state machine from a declarative configuration,
// failing with a ConfigurationError on an invalid definition.
func Machine(config *MachineConfig, options ...Options) (*StateMachine, error) {
	if config == nil {
		return nil, NewConfigurationError("", "nil machine configuration")
	}
	key := config.Key
	if key == "" {
		key = "machine"
	}
	delimiter := config.Delimiter
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	m := &StateMachine{
		key:            key,
		delimiter:      delimiter,
		strict:         config.Strict,
		context:        config.Context.Copy(),
		logger:         stdLogger{},
		transientLimit: DefaultTransientLimit,
		idMap:          make(map[string]*StateNode),
		config:         config,
	}
	for _, opts := range options {
		m.options = m.options.merge(opts)
	}
	if m.options.Logger != nil {
		m.logger = m.options.Logger
	}
	if m.options.TransientLimit > 0 {
		m.transientLimit = m.options.TransientLimit
	}

	if len(config.States) == 0 {
		return nil, NewConfigurationError(key, "machine must declare states")
	}
	root, err := m.buildNode(key, &config.StateConfig, nil)
	if err != nil {
		return nil, err
	}
	m.root = root
	if root.Kind != KindCompound && root.Kind != KindParallel {
		return nil, NewConfigurationError(root.ID, "machine root must be a compound or parallel state")
	}
	if err := m.buildTransitions(root, &config.StateConfig); err != nil {
		return nil, err
	}
	if err := m.resolveHistoryDefaults(root); err != nil {
		return nil, err
	}
	return m, nil
}

// nextOrder hands out document-order indices during construction.
func (m *StateMachine) nextOrder() int {
	order := m.orderCounter
	m.orderCounter++
	return order
}

// ID returns the machine identifier.
func (m *StateMachine) ID() string {
	return m.root.ID
}

// Root returns the root state node.
func (m *StateMachine) Root() *StateNode {
	return m.root
}

// Context returns a copy of the machine's initial context.
func (m *StateMachine) Context() Context {
	return m.context.Copy()
}

// Delimiter returns the path delimiter of the machine.
func (m *StateMachine) Delimiter() string {
	return m.delimiter
}

// WithContext returns a clone of the machine with a different initial
// context. The receiver is not mutated.
func (m *StateMachine) WithContext(ctx Context) *StateMachine {
	clone := *m
	clone.context = ctx.Copy()
	return &clone
}

// WithConfig returns a clone of the machine with the given options
// merged over the existing ones. The receiver is not mutated.
func (m *StateMachine) WithConfig(opts Options) *StateMachine {
	clone := *m
	clone.options = m.options.merge(opts)
	if opts.Logger != nil {
		clone.logger = opts.Logger
	}
	if opts.TransientLimit > 0 {
		clone.transientLimit = opts.TransientLimit
	}
	return &clone
}

// StateByID looks up a node by "#id", absolute id, or dotted path from
// the root, failing with a StateError when absent.
func (m *StateMachine) StateByID(id string) (*StateNode, error) {
	lookup := id
	if len(lookup) > 0 && lookup[0] == '#' {
		lookup = lookup[1:]
	}
	if node, ok := m.idMap[lookup]; ok {
		return node, nil
	}
	if node, err := m.root.StateByPath(lookup); err == nil {
		return node, nil
	}
	return nil, NewStateNotFoundError(id)
}

// alphabet returns the set of event types the machine handles. The
// result is computed once and cached.
func (m *StateMachine) alphabet() map[string]bool {
	if m.alphabetCache != nil {
		return m.alphabetCache
	}
	alpha := make(map[string]bool)
	var walk func(n *StateNode)
	walk = func(n *StateNode) {
		for _, t := range n.Transitions {
			if t.EventType != NullEventType {
				alpha[t.EventType] = true
			}
		}
		for _, key := range n.childKeys {
			walk(n.Children[key])
		}
	}
	walk(m.root)
	m.alphabetCache = alpha
	return alpha
}

// Resolve completes a partial state value against the tree, replacing
// missing descents with initial children and filling parallel regions.
func (m *StateMachine) Resolve(value any) (StateValue, error) {
	return m.resolveValue(m.root, ToStateValue(value, m.delimiter))
}

func (m *StateMachine) resolveValue(node *StateNode, value StateValue) (StateValue, error) {
	switch node.Kind {
	case KindAtomic, KindFinal:
		if value != nil {
			return nil, NewStateNotFoundError(node.ID + m.delimiter + describeValue(value))
		}
		return nil, nil
	case KindHistory:
		return nil, NewStateNotFoundError(node.ID)
	case KindCompound:
		if value == nil {
			return node.initialStateValue(), nil
		}
		var childKey string
		var sub StateValue
		switch v := value.(type) {
		case string:
			childKey = v
		case map[string]StateValue:
			if len(v) != 1 {
				return nil, NewStateNotFoundError(
					fmt.Sprintf("%s (compound value must have exactly one key, got %s)", node.ID, describeValue(value)))
			}
			for k, s := range v {
				childKey, sub = k, s
			}
		default:
			return nil, NewStateNotFoundError(node.ID + m.delimiter + describeValue(value))
		}
		child, err := node.Child(childKey)
		if err != nil {
			return nil, err
		}
		resolved, err := m.resolveValue(child, sub)
		if err != nil {
			return nil, err
		}
		if resolved == nil {
			return child.Key, nil
		}
		return map[string]StateValue{child.Key: resolved}, nil
	case KindParallel:
		partial := map[string]StateValue{}
		switch v := value.(type) {
		case nil:
		case string:
			partial[v] = nil
		case map[string]StateValue:
			partial = v
		default:
			return nil, NewStateNotFoundError(node.ID + m.delimiter + describeValue(value))
		}
		for key := range partial {
			if _, ok := node.Children[key]; !ok {
				return nil, NewStateNotFoundError(node.ID + m.delimiter + key)
			}
		}
		out := make(map[string]StateValue, len(node.childKeys))
		for _, key := range node.childKeys {
			child := node.Children[key]
			if child.Kind == KindHistory {
				continue
			}
			resolved, err := m.resolveValue(child, partial[key])
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	}
	return nil, NewStateNotFoundError(node.ID)
}

// configurationFromValue derives the active node set of a resolved
// value: every named node, every ancestor, and every region of every
// active parallel node, in document order.
func (m *StateMachine) configurationFromValue(value StateValue) ([]*StateNode, error) {
	var nodes []*StateNode
	var walk func(node *StateNode, v StateValue) error
	walk = func(node *StateNode, v StateValue) error {
		nodes = append(nodes, node)
		switch node.Kind {
		case KindAtomic, KindFinal:
			if v != nil {
				return NewStateNotFoundError(node.ID + m.delimiter + describeValue(v))
			}
			return nil
		case KindCompound:
			var childKey string
			var sub StateValue
			switch vv := v.(type) {
			case string:
				childKey = vv
			case map[string]StateValue:
				if len(vv) != 1 {
					return NewStateNotFoundError(node.ID + m.delimiter + describeValue(v))
				}
				for k, s := range vv {
					childKey, sub = k, s
				}
			default:
				return NewStateNotFoundError(node.ID + m.delimiter + describeValue(v))
			}
			child, err := node.Child(childKey)
			if err != nil {
				return err
			}
			return walk(child, sub)
		case KindParallel:
			vv, ok := v.(map[string]StateValue)
			if !ok {
				return NewStateNotFoundError(node.ID + m.delimiter + describeValue(v))
			}
			for _, key := range node.childKeys {
				child := node.Children[key]
				if child.Kind == KindHistory {
					continue
				}
				sub, ok := vv[key]
				if !ok {
					return NewStateNotFoundError(node.ID + m.delimiter + key)
				}
				if err := walk(child, sub); err != nil {
					return err
				}
			}
			return nil
		}
		return NewStateNotFoundError(node.ID)
	}
	if err := walk(m.root, value); err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Order < nodes[j].Order })
	return nodes, nil
}

// valueFromConfiguration rebuilds the state value of a node from an
// active node set.
func (m *StateMachine) valueFromConfiguration(node *StateNode, active map[*StateNode]bool) StateValue {
	switch node.Kind {
	case KindCompound:
		for _, key := range node.childKeys {
			child := node.Children[key]
			if !active[child] {
				continue
			}
			sub := m.valueFromConfiguration(child, active)
			if sub == nil {
				return child.Key
			}
			return map[string]StateValue{child.Key: sub}
		}
		return nil
	case KindParallel:
		out := make(map[string]StateValue, len(node.childKeys))
		for _, key := range node.childKeys {
			child := node.Children[key]
			if child.Kind == KindHistory {
				continue
			}
			out[key] = m.valueFromConfiguration(child, active)
		}
		return out
	}
	return nil
}

// toState normalizes the accepted state forms of Transition: a *State
// from a previous call, a dotted path string, or a (partial) value.
func (m *StateMachine) toState(state any) (*State, error) {
	switch s := state.(type) {
	case *State:
		if s.Configuration == nil {
			resolved, err := m.ResolveState(s.Value)
			if err != nil {
				return nil, err
			}
			resolved.Context = s.Context
			if s.Context == nil {
				resolved.Context = m.context.Copy()
			}
			resolved.History = s.History
			resolved.Activities = s.Activities
			return resolved, nil
		}
		return s, nil
	case State:
		return m.toState(&s)
	default:
		return m.ResolveState(state)
	}
}

// ResolveState completes a partial state value into a full State with
// its configuration; no actions are produced.
func (m *StateMachine) ResolveState(value any) (*State, error) {
	resolved, err := m.Resolve(value)
	if err != nil {
		return nil, err
	}
	configuration, err := m.configurationFromValue(resolved)
	if err != nil {
		return nil, err
	}
	active := nodeSet(configuration)
	return &State{
		Value:         resolved,
		Context:       m.context.Copy(),
		Configuration: configuration,
		History:       HistoryValue{},
		Activities:    map[string]bool{},
		Done:          m.isDoneNode(m.root, active),
	}, nil
}

// InitialState performs the initial entry: the full initial descent of
// the root with its entry actions, transients drained.
func (m *StateMachine) InitialState() (*State, error) {
	value := m.root.initialStateValue()
	configuration, err := m.configurationFromValue(value)
	if err != nil {
		return nil, err
	}
	initEvent := Event{Type: InitEventType}
	rs := &runState{
		cur: &State{
			Value:         value,
			Context:       m.context.Copy(),
			Configuration: configuration,
			History:       HistoryValue{},
			Activities:    map[string]bool{},
		},
	}
	// Entry actions of every initially active node, ancestors first.
	var raised []Event
	for _, node := range configuration {
		if err := m.resolveActions(rs, node.Entry, initEvent, &raised); err != nil {
			return nil, err
		}
		for _, activity := range node.Activities {
			if err := m.resolveAction(rs, startAction(activity, node.ID), initEvent, &raised); err != nil {
				return nil, err
			}
		}
	}
	raised = append(raised, m.doneEvents(configuration, configuration, rs.cur.Context, initEvent)...)
	queue := raised
	if m.hasTransient(configuration) {
		queue = prependNull(queue)
	}
	if err := m.drain(rs, queue); err != nil {
		return nil, err
	}
	active := nodeSet(rs.cur.Configuration)
	return (&State{
		Value:         rs.cur.Value,
		Context:       rs.cur.Context,
		Actions:       rs.actions,
		Activities:    rs.cur.Activities,
		Configuration: rs.cur.Configuration,
		History:       rs.cur.History,
		Event:         initEvent,
		Changed:       false,
		Done:          m.isDoneNode(m.root, active),
	}).truncate(), nil
}

// Transition computes the next state for (state, event). It is pure:
// neither the machine nor the given state is mutated, and the same
// inputs always produce the same result.
func (m *StateMachine) Transition(state any, event any) (*State, error) {
	st, err := m.toState(state)
	if err != nil {
		return nil, err
	}
	evt, err := toEvent(event)
	if err != nil {
		return nil, err
	}
	if evt.IsNull() {
		return nil, fmt.Errorf("cannot send the null event; it is raised internally")
	}
	if m.strict {
		alpha := m.alphabet()
		if !alpha[evt.Type] && !alpha[WildcardEventType] {
			return nil, NewUnhandledEventError(m.root.ID, innermostID(st.Configuration), evt.Type)
		}
	}

	rs := &runState{cur: st}
	fired, err := m.drainFirst(rs, evt)
	if err != nil {
		return nil, err
	}
	if !fired {
		return (&State{
			Value:         st.Value,
			Context:       st.Context,
			Configuration: st.Configuration,
			History:       st.History,
			Activities:    st.Activities,
			Event:         evt,
			Previous:      st,
			Changed:       false,
			Done:          st.Done,
		}).truncate(), nil
	}
	active := nodeSet(rs.cur.Configuration)
	return (&State{
		Value:         rs.cur.Value,
		Context:       rs.cur.Context,
		Actions:       rs.actions,
		Activities:    rs.cur.Activities,
		Configuration: rs.cur.Configuration,
		History:       rs.cur.History,
		Event:         evt,
		Previous:      st,
		Changed:       rs.assigns || !ValueEquals(st.Value, rs.cur.Value),
		Done:          m.isDoneNode(m.root, active),
	}).truncate(), nil
}

// runState accumulates the result of the microsteps of one call.
type runState struct {
	cur     *State
	actions []Action
	assigns bool
	steps   int
}

// drainFirst selects for the external event once and, when something
// fires, runs the full run-to-completion loop. It reports whether any
// transition fired.
func (m *StateMachine) drainFirst(rs *runState, evt Event) (bool, error) {
	selected, err := m.selectTransitions(rs.cur, evt)
	if err != nil {
		return false, err
	}
	if len(selected) == 0 {
		return false, nil
	}
	rs.steps++
	raised, err := m.applyMicrostep(rs, evt, selected)
	if err != nil {
		return false, err
	}
	queue := raised
	if m.hasTransient(rs.cur.Configuration) {
		queue = prependNull(queue)
	}
	return true, m.drain(rs, queue)
}

// drain is the run-to-completion loop: it applies microsteps for every
// queued event, feeding raised and null events back in until
// quiescence, bounded by the transient limit.
func (m *StateMachine) drain(rs *runState, queue []Event) error {
	for len(queue) > 0 {
		evt := queue[0]
		queue = queue[1:]
		selected, err := m.selectTransitions(rs.cur, evt)
		if err != nil {
			return err
		}
		if len(selected) == 0 {
			continue
		}
		rs.steps++
		if rs.steps > m.transientLimit {
			return NewTransientLoopError(m.root.ID, innermostID(rs.cur.Configuration), m.transientLimit)
		}
		raised, err := m.applyMicrostep(rs, evt, selected)
		if err != nil {
			return err
		}
		queue = append(queue, raised...)
		if m.hasTransient(rs.cur.Configuration) {
			queue = prependNull(queue)
		}
	}
	return nil
}

func prependNull(queue []Event) []Event {
	if len(queue) > 0 && queue[0].IsNull() {
		return queue
	}
	return append([]Event{NullEvent()}, queue...)
}

// innermostID names the deepest active node for error messages.
func innermostID(configuration []*StateNode) string {
	if len(configuration) == 0 {
		return ""
	}
	return configuration[len(configuration)-1].ID
}

func nodeSet(nodes []*StateNode) map[*StateNode]bool {
	set := make(map[*StateNode]bool, len(nodes))
	for _, n := range nodes {
		set[n] = true
	}
	return set
}

// ---------------------------------------------------------------------
// Transition selection
// ---------------------------------------------------------------------

// selectTransitions enumerates candidates innermost-first along the
// active value tree. A selection at a descendant stops the event from
// bubbling to its ancestors; orthogonal regions select independently
// and their selections are unioned.
func (m *StateMachine) selectTransitions(st *State, evt Event) ([]*Transition, error) {
	return m.transitionNode(m.root, st.Value, st, evt)
}

func (m *StateMachine) transitionNode(node *StateNode, value StateValue, st *State, evt Event) ([]*Transition, error) {
	switch node.Kind {
	case KindAtomic, KindFinal:
		t, err := m.selectOnNode(node, st, evt)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return []*Transition{t}, nil
		}
		return nil, nil
	case KindCompound:
		var childKey string
		var sub StateValue
		switch v := value.(type) {
		case string:
			childKey = v
		case map[string]StateValue:
			for k, s := range v {
				childKey, sub = k, s
			}
		default:
			return nil, NewStateNotFoundError(node.ID + m.delimiter + describeValue(value))
		}
		child, err := node.Child(childKey)
		if err != nil {
			return nil, err
		}
		selected, err := m.transitionNode(child, sub, st, evt)
		if err != nil {
			return nil, err
		}
		if len(selected) > 0 {
			return selected, nil
		}
		t, err := m.selectOnNode(node, st, evt)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return []*Transition{t}, nil
		}
		return nil, nil
	case KindParallel:
		regions, ok := value.(map[string]StateValue)
		if !ok {
			return nil, NewStateNotFoundError(node.ID + m.delimiter + describeValue(value))
		}
		var union []*Transition
		for _, key := range node.childKeys {
			child := node.Children[key]
			if child.Kind == KindHistory {
				continue
			}
			selected, err := m.transitionNode(child, regions[key], st, evt)
			if err != nil {
				return nil, err
			}
			union = append(union, selected...)
		}
		if len(union) > 0 {
			return union, nil
		}
		t, err := m.selectOnNode(node, st, evt)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return []*Transition{t}, nil
		}
		return nil, nil
	}
	return nil, nil
}

// selectOnNode picks the first candidate of the node, in tie-breaking
// order, whose guard and in-state predicate pass.
func (m *StateMachine) selectOnNode(node *StateNode, st *State, evt Event) (*Transition, error) {
	for _, t := range node.Transitions {
		if !t.matchesEventType(evt) {
			continue
		}
		if !t.checkIn(st) {
			continue
		}
		pass, err := m.evalGuard(t, st, evt)
		if err != nil {
			return nil, err
		}
		if pass {
			return t, nil
		}
	}
	return nil, nil
}

// evalGuard evaluates a transition guard, resolving named guards
// against the options registry.
func (m *StateMachine) evalGuard(t *Transition, st *State, evt Event) (bool, error) {
	if t.Guard == nil {
		return true, nil
	}
	guard := t.Guard
	switch guard.Kind {
	case GuardNamed:
		pred, ok := m.options.Guards[guard.Name]
		if !ok {
			return false, NewRegistryError("guard", guard.Name, t.Source.ID, t.EventType)
		}
		return m.safeGuard(pred, st.Context, evt, t)
	case GuardExpr:
		pass, err := guard.evalExprBool(st.Context, evt)
		if err != nil {
			return false, NewEvalError(StageGuard, m.root.ID, t.Source.ID, t.EventType, err)
		}
		return pass, nil
	default:
		if guard.Pred == nil {
			return true, nil
		}
		return m.safeGuard(guard.Pred, st.Context, evt, t)
	}
}

// safeGuard runs a guard predicate with panic recovery.
func (m *StateMachine) safeGuard(pred GuardFunc, ctx Context, evt Event, t *Transition) (pass bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			pass = false
			err = NewEvalError(StageGuard, m.root.ID, t.Source.ID, t.EventType, fmt.Errorf("%v", r))
		}
	}()
	return pred(ctx, evt), nil
}

// ---------------------------------------------------------------------
// Exit/entry set algebra
// ---------------------------------------------------------------------

// transitionDomain returns the node whose boundary the transition
// operates in: the source itself for internal transitions targeting
// descendants, otherwise the least common compound/parallel proper
// ancestor of the source and every target.
func (m *StateMachine) transitionDomain(t *Transition) *StateNode {
	if t.Internal && allDescendants(t.Source, t.Targets) {
		return t.Source
	}
	for n := t.Source.Parent; n != nil; n = n.Parent {
		containsAll := true
		for _, target := range t.Targets {
			effective := target
			if target.Kind == KindHistory {
				effective = target.Parent
			}
			if !n.isAncestorOf(effective) {
				containsAll = false
				break
			}
		}
		if containsAll && (n.Kind == KindCompound || n.Kind == KindParallel) {
			return n
		}
	}
	return m.root
}

// stepSets holds the exit set, entry set and next configuration of one
// microstep.
type stepSets struct {
	exits   []*StateNode // document order descending
	entries []*StateNode // document order ascending
	config  []*StateNode
}

// computeSets derives the exit and entry sets of the selected
// transitions from the current configuration, honoring LCA boundaries,
// internal transitions and parallel completeness.
func (m *StateMachine) computeSets(st *State, selected []*Transition) (*stepSets, error) {
	exitSet := make(map[*StateNode]bool)
	enterSet := make(map[*StateNode]bool)
	var enterList []*StateNode
	add := func(n *StateNode) {
		if !enterSet[n] {
			enterSet[n] = true
			enterList = append(enterList, n)
		}
	}

	targeted := false
	for _, t := range selected {
		if t.actionOnly() {
			continue
		}
		targeted = true
		domain := m.transitionDomain(t)
		for _, active := range st.Configuration {
			if domain.isAncestorOf(active) {
				exitSet[active] = true
			}
		}
		for _, target := range t.Targets {
			if err := m.addEntryChain(domain, target, st.History, add); err != nil {
				return nil, err
			}
		}
	}
	if !targeted {
		return &stepSets{config: st.Configuration}, nil
	}

	// Completeness: every entered parallel node activates all regions.
	for _, entered := range append([]*StateNode(nil), enterList...) {
		if entered.Kind != KindParallel {
			continue
		}
		for _, key := range entered.childKeys {
			region := entered.Children[key]
			if region.Kind == KindHistory || enterSet[region] {
				continue
			}
			add(region)
			m.descendInitial(region, st.History, add)
		}
	}

	exits := make([]*StateNode, 0, len(exitSet))
	for n := range exitSet {
		exits = append(exits, n)
	}
	sort.Slice(exits, func(i, j int) bool { return exits[i].Order > exits[j].Order })

	entries := append([]*StateNode(nil), enterList...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Order < entries[j].Order })

	var config []*StateNode
	for _, n := range st.Configuration {
		if !exitSet[n] {
			config = append(config, n)
		}
	}
	cfgSet := nodeSet(config)
	for _, n := range entries {
		if !cfgSet[n] {
			config = append(config, n)
			cfgSet[n] = true
		}
	}
	sort.Slice(config, func(i, j int) bool { return config[i].Order < config[j].Order })

	return &stepSets{exits: exits, entries: entries, config: config}, nil
}

// addEntryChain enters the nodes from the domain (exclusive) down to
// the target, then the target's own descendants.
func (m *StateMachine) addEntryChain(domain, target *StateNode, hist HistoryValue, add func(*StateNode)) error {
	effective := target
	if target.Kind == KindHistory {
		effective = target.Parent
	}
	var chain []*StateNode
	for n := effective; n != nil && n != domain; n = n.Parent {
		chain = append(chain, n)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		add(chain[i])
	}
	if target.Kind == KindHistory {
		return m.descendHistory(target, hist, add)
	}
	m.descendInitial(target, hist, add)
	return nil
}

// descendInitial enters the default descendants of a node: the initial
// child of a compound, every region of a parallel.
func (m *StateMachine) descendInitial(node *StateNode, hist HistoryValue, add func(*StateNode)) {
	switch node.Kind {
	case KindCompound:
		child := node.Children[node.Initial]
		add(child)
		m.descendInitial(child, hist, add)
	case KindParallel:
		for _, key := range node.childKeys {
			child := node.Children[key]
			if child.Kind == KindHistory {
				continue
			}
			add(child)
			m.descendInitial(child, hist, add)
		}
	}
}

// descendHistory enters the recalled descendants of a history node:
// the recorded child key (shallow) or the full recorded value (deep),
// falling back to the declared default target, then the parent's
// initial child.
func (m *StateMachine) descendHistory(history *StateNode, hist HistoryValue, add func(*StateNode)) error {
	parent := history.Parent
	recorded := hist.recall(parent)
	if recorded != nil {
		if history.Depth == HistoryShallow {
			key := shallowKey(recorded)
			child, ok := parent.Children[key]
			if !ok {
				return NewStateNotFoundError(parent.ID + m.delimiter + key)
			}
			add(child)
			m.descendInitial(child, hist, add)
			return nil
		}
		return m.descendValue(parent, recorded, hist, add)
	}
	if history.defaultTarget != nil {
		var chain []*StateNode
		for n := history.defaultTarget; n != nil && n != parent; n = n.Parent {
			chain = append(chain, n)
		}
		for i := len(chain) - 1; i >= 0; i-- {
			add(chain[i])
		}
		m.descendInitial(history.defaultTarget, hist, add)
		return nil
	}
	m.descendInitial(parent, hist, add)
	return nil
}

// descendValue enters descendants exactly as described by a recorded
// state value, completing missing branches with initial descents.
func (m *StateMachine) descendValue(node *StateNode, value StateValue, hist HistoryValue, add func(*StateNode)) error {
	switch node.Kind {
	case KindCompound:
		key := shallowKey(value)
		child, ok := node.Children[key]
		if !ok {
			return NewStateNotFoundError(node.ID + m.delimiter + key)
		}
		add(child)
		if sub, ok := value.(map[string]StateValue); ok {
			return m.descendValue(child, sub[key], hist, add)
		}
		m.descendInitial(child, hist, add)
		return nil
	case KindParallel:
		regions, _ := value.(map[string]StateValue)
		for _, key := range node.childKeys {
			child := node.Children[key]
			if child.Kind == KindHistory {
				continue
			}
			add(child)
			sub := regions[key]
			if sub == nil {
				m.descendInitial(child, hist, add)
				continue
			}
			if err := m.descendValue(child, sub, hist, add); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

// ---------------------------------------------------------------------
// Microstep application
// ---------------------------------------------------------------------

// applyMicrostep applies one selected transition set: it records
// history for exited subtrees, folds exit, transition and entry actions
// into the accumulated list, applies assigns, and produces the next
// configuration and value.
func (m *StateMachine) applyMicrostep(rs *runState, evt Event, selected []*Transition) ([]Event, error) {
	cur := rs.cur
	sets, err := m.computeSets(cur, selected)
	if err != nil {
		return nil, err
	}

	hist := cur.History
	for _, exited := range sets.exits {
		if exited.Kind != KindCompound && exited.Kind != KindParallel {
			continue
		}
		if sub := valueAtNode(cur.Value, exited); sub != nil {
			hist = hist.record(exited, sub)
		}
	}

	activities := copyBoolMap(cur.Activities)
	next := &State{
		Context:    cur.Context,
		History:    hist,
		Activities: activities,
	}
	if len(sets.entries) == 0 && len(sets.exits) == 0 {
		next.Value = cur.Value
		next.Configuration = cur.Configuration
	} else {
		next.Configuration = sets.config
		active := nodeSet(sets.config)
		next.Value = m.valueFromConfiguration(m.root, active)
	}

	// Fold the ordered action list: exits (descendants first), then
	// transition actions, then entries (ancestors first), then done
	// events as raises.
	rs.cur = next
	var raised []Event
	for _, exited := range sets.exits {
		if err := m.resolveActions(rs, exited.Exit, evt, &raised); err != nil {
			return nil, err
		}
		for _, activity := range exited.Activities {
			if err := m.resolveAction(rs, stopAction(activity, exited.ID), evt, &raised); err != nil {
				return nil, err
			}
		}
	}
	for _, t := range selected {
		if err := m.resolveActions(rs, t.Actions, evt, &raised); err != nil {
			return nil, err
		}
	}
	for _, entered := range sets.entries {
		if err := m.resolveActions(rs, entered.Entry, evt, &raised); err != nil {
			return nil, err
		}
		for _, activity := range entered.Activities {
			if err := m.resolveAction(rs, startAction(activity, entered.ID), evt, &raised); err != nil {
				return nil, err
			}
		}
	}
	raised = append(raised, m.doneEvents(sets.entries, rs.cur.Configuration, rs.cur.Context, evt)...)
	return raised, nil
}

func startAction(activity *Activity, owner string) Action {
	a := Start(activity)
	a.owner = owner
	return a
}

func stopAction(activity *Activity, owner string) Action {
	a := Stop(activity)
	a.owner = owner
	return a
}

// doneEvents raises done.state events for entered final nodes,
// cascading to parallel ancestors whose regions are all done. Entering
// a final child of a node with no final semantics is a no-op.
func (m *StateMachine) doneEvents(entered, configuration []*StateNode, ctx Context, evt Event) []Event {
	active := nodeSet(configuration)
	var out []Event
	seen := make(map[string]bool)
	for _, node := range entered {
		if node.Kind != KindFinal || node.Parent == nil {
			continue
		}
		parent := node.Parent
		if parent.Kind != KindCompound {
			continue
		}
		if !seen[parent.ID] {
			seen[parent.ID] = true
			out = append(out, Event{Type: doneStateEvent(parent.ID), Data: resolveDoneData(node.DoneData, ctx, evt)}.raised(evt))
		}
		for p := parent.Parent; p != nil; p = p.Parent {
			if p.Kind != KindParallel || !m.isDoneNode(p, active) {
				break
			}
			if !seen[p.ID] {
				seen[p.ID] = true
				out = append(out, Event{Type: doneStateEvent(p.ID)}.raised(evt))
			}
		}
	}
	return out
}

// resolveDoneData evaluates a final node's data against (context, event).
func resolveDoneData(data any, ctx Context, evt Event) any {
	if fn, ok := data.(PayloadFunc); ok {
		return fn(ctx, evt)
	}
	if fn, ok := data.(func(Context, Event) any); ok {
		return fn(ctx, evt)
	}
	return data
}

// isDoneNode reports whether a node is done under the given active
// set: a compound with an active final child, or a parallel whose
// regions are all done.
func (m *StateMachine) isDoneNode(node *StateNode, active map[*StateNode]bool) bool {
	switch node.Kind {
	case KindCompound:
		for _, key := range node.childKeys {
			child := node.Children[key]
			if active[child] && child.Kind == KindFinal {
				return true
			}
		}
		return false
	case KindParallel:
		for _, key := range node.childKeys {
			child := node.Children[key]
			if child.Kind == KindHistory {
				continue
			}
			if !m.isDoneNode(child, active) {
				return false
			}
		}
		return true
	}
	return false
}

// hasTransient reports whether any active node declares a null-event
// transition.
func (m *StateMachine) hasTransient(configuration []*StateNode) bool {
	for _, node := range configuration {
		if node.transient {
			return true
		}
	}
	return false
}

// valueAtNode extracts the subtree value below a node from a full
// state value, or nil when the node is a leaf of the value.
func valueAtNode(value StateValue, node *StateNode) StateValue {
	v := value
	for _, segment := range node.Path {
		switch t := v.(type) {
		case map[string]StateValue:
			v = t[segment]
		case string:
			return nil
		default:
			return nil
		}
	}
	return v
}

func copyBoolMap(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ---------------------------------------------------------------------
// Action resolution
// ---------------------------------------------------------------------

func (m *StateMachine) resolveActions(rs *runState, actions []Action, evt Event, raised *[]Event) error {
	for _, action := range actions {
		if err := m.resolveAction(rs, action, evt, raised); err != nil {
			return err
		}
	}
	return nil
}

// resolveAction resolves one action descriptor against the current
// context and event. Assigns are applied eagerly; raises and internal
// sends go to the raised queue; everything else is appended to the
// accumulated side-effect list.
func (m *StateMachine) resolveAction(rs *runState, action Action, evt Event, raised *[]Event) error {
	switch action.Kind {
	case ActionAssign:
		next, err := m.safeAssign(action, rs.cur.Context, evt)
		if err != nil {
			return err
		}
		rs.cur = rs.cur.withContext(next)
		rs.assigns = true
		return nil

	case ActionRaise:
		out := action.Event
		if action.payload != nil {
			out.Data = action.payload(rs.cur.Context, evt)
		}
		*raised = append(*raised, out.raised(evt))
		return nil

	case ActionSend:
		out := action
		if action.payload != nil {
			out.Event.Data = action.payload(rs.cur.Context, evt)
		}
		if action.DelayName != "" {
			delay, err := m.resolveDelay(action, rs.cur.Context, evt)
			if err != nil {
				return err
			}
			out.Delay = delay
		}
		if out.To == TargetInternal {
			*raised = append(*raised, out.Event.raised(evt))
			return nil
		}
		rs.actions = append(rs.actions, out)
		return nil

	case ActionLog:
		out := action
		if action.valueFn != nil {
			value, err := m.safeEval(action, evt, rs.cur.Context)
			if err != nil {
				return err
			}
			out.Value = value
		}
		m.logger.Log(out.Label, out.Value)
		rs.actions = append(rs.actions, out)
		return nil

	case ActionPure:
		expanded, err := m.safePure(action, rs.cur.Context, evt)
		if err != nil {
			return err
		}
		for _, inner := range expanded {
			inner.owner = action.owner
			if err := m.resolveAction(rs, inner, evt, raised); err != nil {
				return err
			}
		}
		return nil

	case ActionStart:
		if action.Activity != nil {
			if err := m.checkActivity(action); err != nil {
				return err
			}
			rs.cur.Activities[action.Activity.key()] = true
		}
		rs.actions = append(rs.actions, action)
		return nil

	case ActionStop:
		if action.Activity != nil {
			rs.cur.Activities[action.Activity.key()] = false
		}
		rs.actions = append(rs.actions, action)
		return nil

	case ActionCancel:
		rs.actions = append(rs.actions, action)
		return nil

	default: // ActionCustom
		out := action
		if out.Exec == nil && out.Type != "" {
			if fn, ok := m.options.Actions[out.Type]; ok {
				out.Exec = fn
			} else {
				m.logger.Warn("unknown action type '%s' forwarded to the host", out.Type)
			}
		}
		rs.actions = append(rs.actions, out)
		return nil
	}
}

// checkActivity validates a start action against the registries: an
// invocation's service must be in the services registry; a plain
// activity is checked only when an activities registry is present.
func (m *StateMachine) checkActivity(action Action) error {
	activity := action.Activity
	if activity.Src != "" {
		if _, ok := m.options.Services[activity.Src]; !ok {
			return NewRegistryError("service", activity.Src, action.owner, "")
		}
		return nil
	}
	if m.options.Activities != nil {
		if _, ok := m.options.Activities[activity.Type]; !ok {
			return NewRegistryError("activity", activity.Type, action.owner, "")
		}
	}
	return nil
}

// resolveDelay resolves a named delay against the options registry.
func (m *StateMachine) resolveDelay(action Action, ctx Context, evt Event) (time.Duration, error) {
	entry, ok := m.options.Delays[action.DelayName]
	if !ok {
		return 0, NewRegistryError("delay", action.DelayName, action.owner, evt.Type)
	}
	switch d := entry.(type) {
	case time.Duration:
		return d, nil
	case int:
		return Duration(d), nil
	case func(Context, Event) time.Duration:
		return d(ctx, evt), nil
	default:
		return 0, NewRegistryError("delay", action.DelayName, action.owner, evt.Type)
	}
}

// safeAssign runs an assigner with panic recovery, surfacing failures
// as AssignEvaluationFailure.
func (m *StateMachine) safeAssign(action Action, ctx Context, evt Event) (next Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = nil
			err = NewEvalError(StageAssign, m.root.ID, action.owner, evt.Type, fmt.Errorf("%v", r))
		}
	}()
	if action.assigner == nil {
		return ctx, nil
	}
	out := action.assigner(ctx, evt)
	if out == nil {
		return ctx, nil
	}
	return out, nil
}

// safePure expands a pure action with panic recovery.
func (m *StateMachine) safePure(action Action, ctx Context, evt Event) (expanded []Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			expanded = nil
			err = NewEvalError(StageAction, m.root.ID, action.owner, evt.Type, fmt.Errorf("%v", r))
		}
	}()
	if action.pure == nil {
		return nil, nil
	}
	return action.pure(ctx, evt), nil
}

// safeEval evaluates a log value function with panic recovery.
func (m *StateMachine) safeEval(action Action, evt Event, ctx Context) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = NewEvalError(StageAction, m.root.ID, action.owner, evt.Type, fmt.Errorf("%v", r))
		}
	}()
	return action.valueFn(ctx, evt), nil
}

// withContext derives a state with a replaced context; everything else
// is shared.
func (s *State) withContext(ctx Context) *State {
	out := *s
	out.Context = ctx
	return &out
}
