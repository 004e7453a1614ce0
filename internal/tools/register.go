package tools

import (
	"time"

	"crmpilot/internal/config"
	"crmpilot/internal/oracle"
	"crmpilot/internal/tool"
)

// RegisterAll wires every catalog capability into the runner from the
// application config. Slow capabilities get wider timeouts here.
func RegisterAll(r *tool.Runner, cfg *config.Config, o oracle.Completer) error {
	ds := NewDatastore(cfg.Datastore.BaseURL, cfg.Datastore.Token, cfg.Datastore.Timeout)
	if err := RegisterCRM(r, ds); err != nil {
		return err
	}

	mb := NewMailbox(cfg.Datastore.BaseURL+"/mail", cfg.Mail.Token, cfg.Datastore.Timeout)
	if err := RegisterMail(r, mb); err != nil {
		return err
	}

	web := NewWeb(20 * time.Second)
	if err := RegisterWeb(r, web); err != nil {
		return err
	}
	r.SetTimeout("web_crawl_site", 2*time.Minute)

	ws, err := NewWorkspace(cfg.Workspace)
	if err != nil {
		return err
	}
	if err := RegisterSys(r, ws); err != nil {
		return err
	}

	drafter := NewDrafter(o, cfg.LLM.Models.Planner)
	if err := RegisterDraft(r, drafter); err != nil {
		return err
	}
	r.SetTimeout("ai_generate_email", time.Minute)
	return nil
}
