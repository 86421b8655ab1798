package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/nhirsama/Goster-Mission/src/api"
	"github.com/nhirsama/Goster-Mission/src/datastore"
	"github.com/nhirsama/Goster-Mission/src/encoder"
	"github.com/nhirsama/Goster-Mission/src/inter"
	"github.com/nhirsama/Goster-Mission/src/mission_manager"
	"github.com/nhirsama/Goster-Mission/src/notify"
	"github.com/nhirsama/Goster-Mission/src/planfile"
	"github.com/nhirsama/Goster-Mission/src/planner"
	"github.com/nhirsama/Goster-Mission/src/uploader"
	"github.com/nhirsama/Goster-Mission/src/vehiclesim"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func openStore(e *env) (inter.DataStore, error) {
	ds, err := datastore.NewDataStoreSql(e.cfg.Store.Driver, e.cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open upload history: %w", err)
	}
	return ds, nil
}

// openNotifier connects to MQTT when a broker is configured
func openNotifier(e *env) (inter.Notifier, error) {
	if e.cfg.MQTT.Broker == "" {
		return notify.Nop{}, nil
	}
	n, err := notify.NewMQTT(notify.MQTTOptions{
		Broker:   e.cfg.MQTT.Broker,
		ClientID: e.cfg.MQTT.ClientID,
		Topic:    e.cfg.MQTT.Topic,
		Username: e.cfg.MQTT.Username,
		Password: e.cfg.MQTT.Password,
		Logger:   e.log.Named("notify"),
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func runServe(ctx context.Context, e *env, _ *pflag.FlagSet) error {
	ds, err := openStore(e)
	if err != nil {
		return err
	}
	defer ds.Close()

	n, err := openNotifier(e)
	if err != nil {
		return err
	}
	defer n.Close()

	m := mission_manager.NewMissionManager(ds, n, mission_manager.FromConfig(e.cfg, e.log.Named("mission"))...)
	srv := api.NewApiServer(m, e.log.Named("api"))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return srv.ListenAndServe(ctx, e.cfg.API.Listen)
	})
	eg.Go(func() error {
		<-ctx.Done()
		e.log.Info("shutting down")
		return nil
	})
	return eg.Wait()
}

func uploadFlags(fs *pflag.FlagSet) {
	fs.String("plan", "", "flight plan file (.json split table, .csv or .yaml)")
	fs.String("endpoint", "", "vehicle link, e.g. udpin:0.0.0.0:14550, udpout:10.0.0.2:14550 or serial:/dev/ttyUSB0:57600")
	fs.Float64("altitude", 0, "cruise altitude in meters")
	fs.Bool("progress", false, "print every state change and item")
}

func loadPlan(fs *pflag.FlagSet) ([]inter.FlightPlanRow, float64, error) {
	path, _ := fs.GetString("plan")
	if path == "" {
		return nil, 0, errors.New("--plan is required")
	}
	altitude, _ := fs.GetFloat64("altitude")
	rows, err := planfile.Load(path)
	if err != nil {
		return nil, 0, err
	}
	return rows, altitude, nil
}

func runUpload(ctx context.Context, e *env, fs *pflag.FlagSet) error {
	endpoint, _ := fs.GetString("endpoint")
	if endpoint == "" {
		return errors.New("--endpoint is required")
	}
	rows, altitude, err := loadPlan(fs)
	if err != nil {
		return err
	}

	ds, err := openStore(e)
	if err != nil {
		return err
	}
	defer ds.Close()
	n, err := openNotifier(e)
	if err != nil {
		return err
	}
	defer n.Close()

	log := e.log.Named("mission")
	var extra []uploader.Option
	if progress, _ := fs.GetBool("progress"); progress {
		extra = append(extra, uploader.WithProgressCallback(func(p uploader.Progress) {
			fmt.Fprintf(e.stdout, "%-22s %d/%d items, %d resends\n", p.State, p.ItemsSent, p.TotalItems, p.Resends)
		}))
	}
	opts := append(mission_manager.FromConfig(e.cfg, log),
		mission_manager.WithUploader(uploader.New(mission_manager.UploaderOptions(e.cfg, log, extra...)...)))
	m := mission_manager.NewMissionManager(ds, n, opts...)

	out, err := m.Upload(ctx, mission_manager.Request{Endpoint: endpoint, CruiseAltitude: altitude, Rows: rows})
	if err != nil {
		var planErr *planner.PlanError
		if errors.As(err, &planErr) {
			for _, re := range planErr.Rows {
				fmt.Fprintf(e.stderr, "row %d: %s\n", re.Index, re.Reason)
			}
		}
		return err
	}

	res := out.Result
	fmt.Fprintf(e.stdout, "upload %s %s: %d items in %s (%d resends)\n",
		out.UploadID, res.State, res.TotalItems, res.Elapsed.Round(time.Millisecond), res.Resends)
	return nil
}

func compileFlags(fs *pflag.FlagSet) {
	fs.String("plan", "", "flight plan file (.json split table, .csv or .yaml)")
	fs.Float64("altitude", 0, "cruise altitude in meters")
	fs.Bool("first-current", false, "mark the first item as current")
}

func runCompile(_ context.Context, e *env, fs *pflag.FlagSet) error {
	rows, altitude, err := loadPlan(fs)
	if err != nil {
		return err
	}

	var encOpts []encoder.Option
	if first, _ := fs.GetBool("first-current"); first || e.cfg.Upload.FirstItemCurrent {
		encOpts = append(encOpts, encoder.WithFirstItemCurrent())
	}
	instructions, err := planner.Compile(rows, altitude,
		planner.WithServoPWM(e.cfg.Plan.ServoPWM), planner.WithRowAltitude(e.cfg.Plan.UseRowAltitude))
	if err != nil {
		var planErr *planner.PlanError
		if errors.As(err, &planErr) {
			for _, re := range planErr.Rows {
				fmt.Fprintf(e.stderr, "row %d: %s\n", re.Index, re.Reason)
			}
		}
		return err
	}
	plan, err := encoder.Encode(instructions, encOpts...)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tINSTRUCTION\tCOMMAND\tFRAME\tCUR\tP1\tP2\tX\tY\tZ")
	for i, it := range plan.Items() {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%g\t%g\t%d\t%d\t%g\n",
			it.Seq, instructions[i], it.Command, it.Frame, it.Current, it.Param1, it.Param2, it.X, it.Y, it.Z)
	}
	return tw.Flush()
}

func historyFlags(fs *pflag.FlagSet) {
	fs.Int("limit", 20, "number of uploads to list")
}

func runHistory(_ context.Context, e *env, fs *pflag.FlagSet) error {
	limit, _ := fs.GetInt("limit")

	ds, err := openStore(e)
	if err != nil {
		return err
	}
	defer ds.Close()

	records, err := ds.ListUploads(limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tENDPOINT\tSTATE\tITEMS\tERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Endpoint, r.State, r.ItemsSent, r.ItemCount, r.Error)
	}
	return tw.Flush()
}

func simulateFlags(fs *pflag.FlagSet) {
	fs.String("vehicle-listen", "127.0.0.1:14550", "wait for a ground station on this UDP address")
	fs.String("vehicle-dial", "", "send heartbeats to a ground station listening here instead")
	fs.Uint8("result", 0, "MAV_MISSION_RESULT answered after the last item")
	fs.Bool("silent", false, "ignore mission uploads")
	fs.Bool("legacy", false, "request items with MISSION_REQUEST instead of MISSION_REQUEST_INT")
	fs.Bool("no-clear-ack", false, "do not acknowledge MISSION_CLEAR_ALL")
}

func runSimulate(ctx context.Context, e *env, fs *pflag.FlagSet) error {
	listenAddr, _ := fs.GetString("vehicle-listen")
	dialAddr, _ := fs.GetString("vehicle-dial")
	result, _ := fs.GetUint8("result")

	opts := []vehiclesim.Option{
		vehiclesim.WithResult(inter.MavMissionResult(result)),
		vehiclesim.WithLogger(e.log.Named("vehicle")),
	}
	if silent, _ := fs.GetBool("silent"); silent {
		opts = append(opts, vehiclesim.WithSilence())
	}
	if legacy, _ := fs.GetBool("legacy"); legacy {
		opts = append(opts, vehiclesim.WithLegacyRequests())
	}
	if noAck, _ := fs.GetBool("no-clear-ack"); noAck {
		opts = append(opts, vehiclesim.WithoutClearAck())
	}

	var (
		v   *vehiclesim.Vehicle
		err error
	)
	if dialAddr != "" {
		v, err = vehiclesim.Dial(dialAddr, opts...)
	} else {
		v, err = vehiclesim.Listen(listenAddr, opts...)
	}
	if err != nil {
		return fmt.Errorf("start vehicle: %w", err)
	}
	e.log.Info("simulated vehicle running", "addr", v.Addr(), "result", inter.MavMissionResult(result))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return v.Run(ctx) })
	eg.Go(func() error {
		<-ctx.Done()
		return v.Close()
	})
	if err := eg.Wait(); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "vehicle received %d missions\n", len(v.Missions()))
	return nil
}
