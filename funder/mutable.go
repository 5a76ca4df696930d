package funder

// MutableFunderState wraps a FunderState for the duration of one handler
// invocation: it holds the untouched initial state, the live state, and the
// ordered mutation log connecting the two. On completion the triple is
// surrendered so the caller can persist the log, project it into report
// mutations against the initial state, and commit the final state.
type MutableFunderState struct {
	initialState *FunderState
	state        *FunderState
	mutations    []FunderMutation
}

// NewMutableFunderState starts a mutation session over state. The passed
// state is adopted as the live copy; the initial state is a clone.
func NewMutableFunderState(state *FunderState) *MutableFunderState {
	return &MutableFunderState{
		initialState: state.Copy(),
		state:        state,
	}
}

// Mutate applies a mutation to the live state and appends it to the log.
func (m *MutableFunderState) Mutate(mutation FunderMutation) {
	m.state.Mutate(mutation)
	m.mutations = append(m.mutations, mutation)
}

// State returns the live state.
func (m *MutableFunderState) State() *FunderState {
	return m.state
}

// Done surrenders the session: the initial state, the mutation log, and the
// final state.
func (m *MutableFunderState) Done() (*FunderState, []FunderMutation,
	*FunderState) {

	return m.initialState, m.mutations, m.state
}

// MutableEphemeral is the volatile counterpart of MutableFunderState. Its
// mutations are never persisted.
type MutableEphemeral struct {
	ephemeral *Ephemeral
	mutations []EphemeralMutation
}

// NewMutableEphemeral starts a mutation session over ephemeral.
func NewMutableEphemeral(ephemeral *Ephemeral) *MutableEphemeral {
	return &MutableEphemeral{
		ephemeral: ephemeral,
	}
}

// Mutate applies a mutation to the ephemeral state and appends it to the
// log.
func (m *MutableEphemeral) Mutate(mutation EphemeralMutation) {
	m.ephemeral.Mutate(mutation)
	m.mutations = append(m.mutations, mutation)
}

// Ephemeral returns the live ephemeral state.
func (m *MutableEphemeral) Ephemeral() *Ephemeral {
	return m.ephemeral
}

// Done surrenders the session: the mutation log and the final ephemeral
// state.
func (m *MutableEphemeral) Done() ([]EphemeralMutation, *Ephemeral) {
	return m.mutations, m.ephemeral
}
