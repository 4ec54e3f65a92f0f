package wire

// Command names understood by the engine and by agentlink.
const (
	CmdStartGraph = "CMD_START_GRAPH"
	CmdStopGraph  = "CMD_STOP_GRAPH"
	CmdFlush      = "flush"
)

// Property keys used by the session commands and their results.
const (
	PropPredefinedGraphName = "predefined_graph_name"
	PropLocationURI         = "location_uri"
	PropGraphID             = "graph_id"
	PropAppURI              = "app_uri"
	PropDetail              = "detail"
	PropError               = "error"
)

// StatusCode is the outcome carried by a [CommandResult].
type StatusCode int

const (
	StatusOK    StatusCode = 0
	StatusError StatusCode = 1
)

// Command is a request that may be answered by a [CommandResult] carrying
// the same CmdID.
type Command struct {
	Header
	CmdID string
}

func (c *Command) command() *Command { return c }

// commander is satisfied by *Command and every type embedding it.
type commander interface {
	Message
	command() *Command
}

// CommandOf returns the embedded [Command] of m, or nil if m is not a
// command.
func CommandOf(m Message) *Command {
	if c, ok := m.(commander); ok {
		return c.command()
	}
	return nil
}

// StartGraphCommand asks the engine to start an extension graph.
type StartGraphCommand struct {
	Command
	LongRunningMode     bool
	PredefinedGraphName string
	ExtensionGroupsInfo []map[string]any
	ExtensionsInfo      []map[string]any
	GraphJSON           string
}

// StopGraphCommand asks the engine to stop a running graph.
type StopGraphCommand struct {
	Command
	GraphID string
}

// NewCommand builds the command matching name: a [*StartGraphCommand] for
// [CmdStartGraph], a [*StopGraphCommand] for [CmdStopGraph], and a plain
// [*Command] otherwise. Subtype fields are filled from props.
func NewCommand(name, cmdID string, src *Location, dest []Location, props map[string]any) Message {
	hdr := Header{Name: name, Src: src, Dest: dest, Properties: props}
	switch name {
	case CmdStartGraph:
		hdr.Type = TypeCmdStartGraph
		c := &StartGraphCommand{Command: Command{Header: hdr, CmdID: cmdID}}
		c.PredefinedGraphName = hdr.StringProperty(PropPredefinedGraphName)
		c.GraphJSON = hdr.StringProperty("graph_json")
		if v, ok := hdr.Property("long_running_mode"); ok {
			c.LongRunningMode, _ = v.(bool)
		}
		return c
	case CmdStopGraph:
		hdr.Type = TypeCmdStopGraph
		c := &StopGraphCommand{Command: Command{Header: hdr, CmdID: cmdID}}
		c.GraphID = hdr.StringProperty(PropGraphID)
		return c
	default:
		hdr.Type = TypeCmd
		return &Command{Header: hdr, CmdID: cmdID}
	}
}

// CommandResult answers the command whose id is OriginalCmdID.
type CommandResult struct {
	Header
	OriginalCmdID   string
	OriginalCmdType MessageType
	OriginalCmdName string
	StatusCode      StatusCode
	IsFinal         bool
	IsCompleted     bool
}

// NewCommandResult builds a result answering cmd.
func NewCommandResult(cmd Message, status StatusCode, props map[string]any) *CommandResult {
	hdr := cmd.MessageHeader()
	r := &CommandResult{
		Header:          Header{Type: TypeCmdResult, Properties: props},
		OriginalCmdType: hdr.Type,
		OriginalCmdName: hdr.Name,
		StatusCode:      status,
		IsFinal:         true,
		IsCompleted:     true,
	}
	if c := CommandOf(cmd); c != nil {
		r.OriginalCmdID = c.CmdID
	}
	return r
}

// Success reports whether the command completed with [StatusOK].
func (r *CommandResult) Success() bool { return r.StatusCode == StatusOK }

// Detail returns the human-readable detail, falling back to the error text.
func (r *CommandResult) Detail() string {
	if d := r.StringProperty(PropDetail); d != "" {
		return d
	}
	return r.StringProperty(PropError)
}
