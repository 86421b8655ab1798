package mission_manager

import (
	"github.com/nhirsama/Goster-Mission/src/config"
	"github.com/nhirsama/Goster-Mission/src/encoder"
	"github.com/nhirsama/Goster-Mission/src/inter"
	"github.com/nhirsama/Goster-Mission/src/planner"
	"github.com/nhirsama/Goster-Mission/src/transport"
	"github.com/nhirsama/Goster-Mission/src/uploader"
)

// UploaderOptions are the engine settings from cfg; extra options are
// applied last
func UploaderOptions(cfg *config.Config, log inter.Logger, extra ...uploader.Option) []uploader.Option {
	opts := []uploader.Option{
		uploader.WithItemRequestTimeout(cfg.Upload.ItemRequestTimeout),
		uploader.WithAckTimeout(cfg.Upload.AckTimeout),
		uploader.WithClearAckTimeout(cfg.Upload.ClearAckTimeout),
		uploader.WithCountRetries(cfg.Upload.CountRetries),
		uploader.WithLogger(log),
	}
	return append(opts, extra...)
}

// FromConfig translates the loaded configuration into Manager options.
// Options appended after these override them.
func FromConfig(cfg *config.Config, log inter.Logger) []Option {
	opts := []Option{
		WithLogger(log),
		WithTransportOptions(
			transport.WithHeartbeatTimeout(cfg.Transport.HeartbeatTimeout),
			transport.WithSourceIDs(cfg.Transport.SystemID, cfg.Transport.ComponentID),
			transport.WithMavlinkVersion(cfg.Transport.MavlinkVersion),
			transport.WithLogger(log),
		),
		WithUploader(uploader.New(UploaderOptions(cfg, log)...)),
		WithPlannerOptions(
			planner.WithServoPWM(cfg.Plan.ServoPWM),
			planner.WithRowAltitude(cfg.Plan.UseRowAltitude),
		),
	}
	if cfg.Upload.FirstItemCurrent {
		opts = append(opts, WithEncoderOptions(encoder.WithFirstItemCurrent()))
	}
	return opts
}
