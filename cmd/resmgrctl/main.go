// resmgrctl is the administrator CLI for resource queue DDL: it dials
// resmgrd's control socket directly and sends the same
// REQUEST_QD_DDL_MANIPULATERESQUEUE frames a query dispatcher would,
// either from flags or from an interactive form.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/willschipp/resmgr/internal/rpc"
	"github.com/willschipp/resmgr/pkg/config"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func main() {
	var (
		configPath = flag.String("config", "", "path to configuration file")
		socketPath = flag.String("socket", "", "path to resmgrd's unix domain socket (overrides config)")
		action     = flag.String("action", "", "create, alter, or drop (omit for the interactive wizard)")
		name       = flag.String("name", "", "resource queue name")
		parent     = flag.String("parent", "", "parent queue name (create only)")
		memPct     = flag.String("memory-limit-cluster", "", "cluster memory percent, e.g. 50%")
		corePct    = flag.String("vcore-limit-cluster", "", "cluster vcore percent, e.g. 50%")
		active     = flag.String("active-statements", "", "concurrency cap")
		policy     = flag.String("allocation-policy", "", "even or fifo")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}
	if *socketPath != "" {
		cfg.Server.SocketPath = *socketPath
	}

	var req rpc.DDLManipulateQueueRequest
	if *action == "" {
		req, err = runWizard()
		if err != nil {
			fmt.Fprintln(os.Stderr, errStyle.Render("resmgrctl: "+err.Error()))
			os.Exit(1)
		}
	} else {
		req, err = requestFromFlags(*action, *name, *parent, *memPct, *corePct, *active, *policy)
		if err != nil {
			fmt.Fprintln(os.Stderr, errStyle.Render("resmgrctl: "+err.Error()))
			os.Exit(1)
		}
	}

	if err := send(cfg.Server.SocketPath, req); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("resmgrctl: "+err.Error()))
		os.Exit(1)
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("queued %s on queue %q", actionName(req.Action), req.Name)))
}

func requestFromFlags(action, name, parent, memPct, corePct, active, policy string) (rpc.DDLManipulateQueueRequest, error) {
	if name == "" {
		return rpc.DDLManipulateQueueRequest{}, fmt.Errorf("-name is required")
	}
	req := rpc.DDLManipulateQueueRequest{Name: name}
	switch action {
	case "create":
		req.Action = rpc.DDLCreate
	case "alter":
		req.Action = rpc.DDLAlter
	case "drop":
		req.Action = rpc.DDLDrop
		return req, nil
	default:
		return req, fmt.Errorf("-action must be create, alter, or drop")
	}

	addAttr(&req, "parent", parent)
	addAttr(&req, "memory_limit_cluster", memPct)
	addAttr(&req, "vcore_limit_cluster", corePct)
	addAttr(&req, "active_statements", active)
	addAttr(&req, "allocation_policy", policy)
	return req, nil
}

func addAttr(req *rpc.DDLManipulateQueueRequest, key, value string) {
	if value != "" {
		req.Attrs = append(req.Attrs, rpc.DDLAttr{Key: key, Value: value})
	}
}

// runWizard walks the administrator through one DDL statement with a huh
// form, mirroring the interactive-setup shape of an ordinary admin tool
// but scoped to resource queue attributes instead of provider credentials.
func runWizard() (rpc.DDLManipulateQueueRequest, error) {
	var (
		action  string
		name    string
		parent  string
		memPct  string
		corePct string
		active  string
		policy  string
	)

	fmt.Println(titleStyle.Render("resmgrctl — resource queue administration"))

	actionGroup := huh.NewGroup(
		huh.NewSelect[string]().
			Title("Action").
			Options(
				huh.NewOption("Create a new queue", "create"),
				huh.NewOption("Alter an existing queue", "alter"),
				huh.NewOption("Drop a queue", "drop"),
			).
			Value(&action),
		huh.NewInput().
			Title("Queue name").
			Validate(func(s string) error {
				if s == "" {
					return fmt.Errorf("queue name is required")
				}
				return nil
			}).
			Value(&name),
	)

	if err := huh.NewForm(actionGroup).Run(); err != nil {
		return rpc.DDLManipulateQueueRequest{}, err
	}

	req := rpc.DDLManipulateQueueRequest{Name: name}
	switch action {
	case "create":
		req.Action = rpc.DDLCreate
	case "alter":
		req.Action = rpc.DDLAlter
	case "drop":
		req.Action = rpc.DDLDrop
		return req, nil
	}

	attrGroup := huh.NewGroup(
		huh.NewInput().Title("Parent queue (create only, blank for pg_root)").Value(&parent),
		huh.NewInput().Title("Cluster memory percent, e.g. 50%").Value(&memPct),
		huh.NewInput().Title("Cluster vcore percent, e.g. 50%").Value(&corePct),
		huh.NewInput().Title("Active statements (blank for unbounded)").Value(&active),
		huh.NewSelect[string]().
			Title("Allocation policy").
			Options(
				huh.NewOption("fifo", "fifo"),
				huh.NewOption("even", "even"),
				huh.NewOption("leave unchanged", ""),
			).
			Value(&policy),
	)
	if err := huh.NewForm(attrGroup).Run(); err != nil {
		return rpc.DDLManipulateQueueRequest{}, err
	}

	addAttr(&req, "parent", parent)
	addAttr(&req, "memory_limit_cluster", memPct)
	addAttr(&req, "vcore_limit_cluster", corePct)
	addAttr(&req, "active_statements", active)
	addAttr(&req, "allocation_policy", policy)
	return req, nil
}

// send dials the control socket and writes one DDL frame. The wire
// protocol defines no DDL acknowledgement message (spec §6's response
// table covers only REQUEST_QD_ACQUIRE_RESOURCE), so this is fire-and-
// forget from the client's point of view, same as the original
// dispatcher-side DDL path.
func send(socketPath string, req rpc.DDLManipulateQueueRequest) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	frame := rpc.Frame{Mark: rpc.MarkRequestDDLManipulateQueue, Body: rpc.EncodeDDLManipulateQueueRequest(req)}
	return rpc.WriteFrame(conn, frame)
}

func actionName(a rpc.DDLAction) string {
	switch a {
	case rpc.DDLCreate:
		return "create"
	case rpc.DDLAlter:
		return "alter"
	case rpc.DDLDrop:
		return "drop"
	default:
		return "unknown"
	}
}
