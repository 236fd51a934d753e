// Command armord drives an ArmorD security module from the command
// line: key lifecycle operations, digesting, signing, and verification.
//
//	armord [flags] <command> [args]
//
//	commands:
//	  tag                       print the module's identity tag
//	  generate                  generate the initial key pair, print the public key
//	  rotate                    rotate the key pair, print the new public key
//	  erase                     erase the module's keys and the local record
//	  digest [file]             digest file (or stdin), print hex
//	  sign [file]               sign file (or stdin), print hex
//	  verify <pub> <sig> [file] verify a hex signature over file (or stdin)
//	  devices                   list advertising modules
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/armord"
	"github.com/chaz8081/armord/internal/ble"
	"github.com/chaz8081/armord/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.bali/config.yaml)")
	directory := flag.String("dir", "", "override the record directory")
	debug := flag.Int("debug", -1, "override debug level (0..3)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *directory != "" {
		cfg.Directory = *directory
	}
	if *debug >= 0 {
		cfg.DebugLevel = *debug
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	})))

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Cancel in-flight work on interrupt; the transport still
	// disconnects the peripheral before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flag.Args()); err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.DefaultConfigPath()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func run(ctx context.Context, cfg *config.Config, args []string) error {
	if args[0] == "devices" {
		return listDevices(cfg)
	}

	proxy, err := armord.New(cfg)
	if err != nil {
		return err
	}

	switch args[0] {
	case "tag":
		tag, err := proxy.GetTag(ctx)
		if err != nil {
			return err
		}
		fmt.Println(tag)

	case "generate":
		publicKey, err := proxy.GenerateKeys(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%x\n", publicKey)

	case "rotate":
		publicKey, err := proxy.RotateKeys(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%x\n", publicKey)

	case "erase":
		ok, err := proxy.EraseKeys(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("module declined to erase")
		}
		fmt.Println("erased")

	case "digest":
		message, err := readInput(args[1:])
		if err != nil {
			return err
		}
		digest, err := proxy.DigestBytes(ctx, message)
		if err != nil {
			return err
		}
		fmt.Printf("%x\n", digest)

	case "sign":
		message, err := readInput(args[1:])
		if err != nil {
			return err
		}
		signature, err := proxy.SignBytes(ctx, message)
		if err != nil {
			return err
		}
		fmt.Printf("%x\n", signature)

	case "verify":
		if len(args) < 3 {
			return fmt.Errorf("usage: verify <pub-hex> <sig-hex> [file]")
		}
		publicKey, err := hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("decoding public key: %w", err)
		}
		signature, err := hex.DecodeString(args[2])
		if err != nil {
			return fmt.Errorf("decoding signature: %w", err)
		}
		message, err := readInput(args[3:])
		if err != nil {
			return err
		}
		ok, err := proxy.ValidSignature(ctx, publicKey, signature, message)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("signature is NOT valid")
		}
		fmt.Println("valid")

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}

// readInput reads the message from the named file, or stdin when no
// file is given.
func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(args[0])
}

func listDevices(cfg *config.Config) error {
	devices, err := ble.ScanForDevices(ble.NewBluetoothAdapter(), 5*time.Second)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("no modules advertising")
		return nil
	}
	for _, d := range devices {
		marker := " "
		if d.Name == cfg.DeviceName {
			marker = "*"
		}
		fmt.Printf("%s %-16s %s (RSSI %d)\n", marker, d.Name, d.Address, d.RSSI)
	}
	return nil
}
