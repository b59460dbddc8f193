package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/civichain/votegate/internal/capture"
	"github.com/civichain/votegate/internal/models"
	"github.com/civichain/votegate/internal/registry"
	"github.com/joho/godotenv"
)

// refimages manages the local reference-image registry used by the
// face factor. Operators register a voter's reference image from a
// file or straight from the station camera.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	// Only the registry settings matter here; the full server
	// configuration is not required.
	_ = godotenv.Load()
	dir := os.Getenv("REFERENCE_IMAGE_DIR")
	if dir == "" {
		dir = "reference_images"
	}
	deviceID := 0
	if raw := os.Getenv("CAMERA_DEVICE_ID"); raw != "" {
		if id, err := strconv.Atoi(raw); err == nil {
			deviceID = id
		}
	}

	store, err := registry.NewStore(dir, logger)
	if err != nil {
		logger.Error("failed to open registry", slog.Any("error", err))
		os.Exit(1)
	}

	switch os.Args[1] {
	case "add":
		runAdd(store, os.Args[2:])
	case "capture":
		runCapture(store, deviceID, os.Args[2:])
	case "list":
		runList(store)
	case "remove":
		runRemove(store, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: refimages <command> [flags]

commands:
  add      -gov-id <id> -image <path>   register a reference image from a file
  capture  -gov-id <id>                 register a reference image from the camera
  list                                  list registered reference images
  remove   -gov-id <id>                 remove a voter's reference image`)
}

func identityKey(fs *flag.FlagSet, govID string) string {
	if govID == "" {
		fmt.Fprintln(os.Stderr, "-gov-id is required")
		fs.Usage()
		os.Exit(2)
	}
	identity := models.VoterIdentity{GovernmentID: govID}
	return identity.Key()
}

func runAdd(store *registry.Store, args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	govID := fs.String("gov-id", "", "government ID of the voter")
	image := fs.String("image", "", "path to the reference image")
	fs.Parse(args)

	if *image == "" {
		fmt.Fprintln(os.Stderr, "-image is required")
		fs.Usage()
		os.Exit(2)
	}

	entry, err := store.AddImage(identityKey(fs, *govID), *image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "add failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("registered %s (%s)\n", entry.FileName, entry.Source)
}

func runCapture(store *registry.Store, deviceID int, args []string) {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	govID := fs.String("gov-id", "", "government ID of the voter")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	device := capture.NewWebcam(deviceID)
	entry, err := store.CaptureFromDevice(ctx, device, identityKey(fs, *govID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "capture failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("registered %s (%s)\n", entry.FileName, entry.Source)
}

func runList(store *registry.Store) {
	entries, err := store.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("no reference images registered")
		return
	}
	for _, e := range entries {
		fmt.Printf("%s  %-8s  %s\n", e.AddedAt.Format("2006-01-02 15:04"), e.Source, e.FileName)
	}
}

func runRemove(store *registry.Store, args []string) {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	govID := fs.String("gov-id", "", "government ID of the voter")
	fs.Parse(args)

	if err := store.Remove(identityKey(fs, *govID)); err != nil {
		fmt.Fprintf(os.Stderr, "remove failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("removed")
}
