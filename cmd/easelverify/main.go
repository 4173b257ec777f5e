// Command easelverify verifies authorship proof documents offline and
// matches arbitrary artifacts against the local proof index.
//
// Usage:
//
//	easelverify [flags] <proof.json>
//	easelverify -lookup <artifact> [flags]
//
// Examples:
//
//	# Verify a proof against a public key
//	easelverify -pubkey signing.pub proof.json
//
//	# Verify an HMAC fallback proof
//	easelverify -hmac-secret fallback.secret proof.json
//
//	# Match an uploaded artifact against the proof index
//	easelverify -lookup artwork.png -index proofs.db
//
//	# JSON output for pipelines
//	easelverify -format json -pubkey signing.pub proof.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"easeld/internal/config"
	"easeld/internal/match"
	"easeld/internal/proof"
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	pubkeyPath := flag.String("pubkey", "", "Ed25519 public key (raw or OpenSSH format)")
	hmacSecretPath := flag.String("hmac-secret", "", "HMAC fallback secret file")
	lookupPath := flag.String("lookup", "", "artifact file to match against the proof index")
	indexPath := flag.String("index", "", "proof index database (default from config)")
	configPath := flag.String("config", "", "configuration file supplying index defaults")
	threshold := flag.Int("threshold", 0, "re-encode match threshold in bits (0 takes the config value)")
	formatStr := flag.String("format", "text", "output format: text, json")
	versionFlag := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "easelverify - Verify authorship proofs and match artifacts\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <proof.json>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "       %s -lookup <artifact> [-index <proofs.db>] [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *versionFlag {
		fmt.Printf("easelverify %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if *lookupPath != "" {
		os.Exit(runLookup(*lookupPath, *indexPath, *configPath, *threshold, *formatStr))
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: proof file required\n\n")
		flag.Usage()
		os.Exit(2)
	}
	os.Exit(runVerify(flag.Arg(0), *pubkeyPath, *hmacSecretPath, *formatStr))
}

type verifyOutput struct {
	Proof            string `json:"proof"`
	StructureValid   bool   `json:"structure_valid"`
	SignatureValid   bool   `json:"signature_valid"`
	SignatureVersion string `json:"signature_version"`
	Classification   string `json:"classification"`
}

func runVerify(proofPath, pubkeyPath, hmacSecretPath, format string) int {
	data, err := os.ReadFile(proofPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: read proof: %v\n", err)
		return 2
	}

	out := verifyOutput{Proof: proofPath}
	out.StructureValid = proof.ValidateDocument(data) == nil

	doc, err := proof.Parse(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: parse proof: %v\n", err)
		return 2
	}
	out.SignatureVersion = doc.SignatureVersion
	out.Classification = doc.Classification

	anchors := proof.TrustAnchors{}
	if pubkeyPath != "" {
		pub, err := proof.LoadPublicKey(pubkeyPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: load public key: %v\n", err)
			return 2
		}
		anchors.Ed25519Public = pub
	}
	if hmacSecretPath != "" {
		secret, err := os.ReadFile(hmacSecretPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: read hmac secret: %v\n", err)
			return 2
		}
		anchors.HMACSecret = secret
	}
	out.SignatureValid = proof.Verify(doc, anchors)

	render(out, format)
	if !out.SignatureValid {
		return 1
	}
	return 0
}

func runLookup(artifactPath, indexPath, configPath string, threshold int, format string) int {
	if indexPath == "" || threshold <= 0 {
		cfg := config.DefaultConfig()
		if configPath != "" {
			loaded, err := config.NewLoader(configPath).Load()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
				return 2
			}
			cfg = loaded
		}
		if indexPath == "" {
			indexPath = cfg.Matcher.IndexPath
		}
		if threshold <= 0 {
			threshold = cfg.Matcher.HammingThreshold
		}
	}
	artifact, err := os.ReadFile(artifactPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: read artifact: %v\n", err)
		return 2
	}

	ix, err := match.Open(indexPath, threshold)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open index: %v\n", err)
		return 2
	}
	defer ix.Close()

	res, err := ix.LookupArtifact(artifact)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: lookup: %v\n", err)
		return 2
	}

	render(res, format)
	if res.Kind == match.MatchNone {
		return 1
	}
	return 0
}

func render(v any, format string) {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(v)
		return
	}

	switch out := v.(type) {
	case verifyOutput:
		fmt.Printf("Proof:             %s\n", out.Proof)
		fmt.Printf("Structure:         %s\n", pass(out.StructureValid))
		fmt.Printf("Signature:         %s (%s)\n", pass(out.SignatureValid), out.SignatureVersion)
		fmt.Printf("Classification:    %s\n", out.Classification)
	case *match.MatchResult:
		fmt.Printf("Match:             %s\n", out.Kind)
		if out.Kind != match.MatchNone {
			fmt.Printf("Confidence:        %s\n", out.Confidence)
			fmt.Printf("Session:           %s\n", out.SessionID)
			if out.Kind == match.MatchReencoded {
				fmt.Printf("Distance:          %d bits\n", out.Distance)
			}
			if out.Document != nil {
				fmt.Printf("Classification:    %s\n", out.Document.Classification)
			}
		}
	}
}

func pass(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}
