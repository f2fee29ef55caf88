package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	enigmatls "github.com/polisai/enigma/internal/tls"
	"github.com/polisai/enigma/pkg/config"
)

type genCertOptions struct {
	outputDir    string
	commonName   string
	organization string
	dnsNames     []string
	ipAddresses  []net.IP
	validFor     time.Duration
}

// newGenCertCmd writes a development CA plus a server chain and key in the
// layout serve expects by default.
func newGenCertCmd() *cobra.Command {
	opts := &genCertOptions{}

	cmd := &cobra.Command{
		Use:   "gen-cert",
		Short: "Generate a development certificate chain for HTTPS mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenCert(cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.outputDir, "output-dir", "o", ".", "Directory to write ca.pem, server-chain.pem and server-key.pem into")
	flags.StringVar(&opts.commonName, "cn", "localhost", "Common name of the server certificate")
	flags.StringVar(&opts.organization, "org", "enigma", "Organization name")
	flags.StringSliceVar(&opts.dnsNames, "dns", nil, "DNS names (SANs); defaults to localhost")
	flags.IPSliceVar(&opts.ipAddresses, "ips", nil, "IP addresses (SANs); defaults to loopback")
	flags.DurationVar(&opts.validFor, "valid-for", 365*24*time.Hour, "Certificate validity duration")

	return cmd
}

func runGenCert(out io.Writer, opts *genCertOptions) error {
	files, err := enigmatls.GenerateServerChain(opts.outputDir, enigmatls.CertificateGenerationOptions{
		CommonName:   opts.commonName,
		Organization: []string{opts.organization},
		DNSNames:     opts.dnsNames,
		IPAddresses:  opts.ipAddresses,
		ValidFor:     opts.validFor,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Certificate chain generated successfully:\n")
	fmt.Fprintf(out, "  CA:          %s\n", files.CAFile)
	fmt.Fprintf(out, "  Chain:       %s\n", files.CertChainFile)
	fmt.Fprintf(out, "  Private Key: %s\n", files.KeyFile)
	fmt.Fprintf(out, "  Common Name: %s\n", opts.commonName)
	fmt.Fprintf(out, "  Valid For:   %v\n", opts.validFor)
	return nil
}

// newCheckCertCmd validates HTTPS material the same way serve does at startup.
func newCheckCertCmd() *cobra.Command {
	var certChain, privateKey string

	cmd := &cobra.Command{
		Use:   "check-cert",
		Short: "Check that a certificate chain and key are usable for HTTPS mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, info, err := enigmatls.BuildServer(enigmatls.Config{CertChainFile: certChain, KeyFile: privateKey})
			if err != nil {
				var tlsErr *enigmatls.TLSError
				if !errors.As(err, &tlsErr) {
					return err
				}
				if enigmatls.IsCertificateError(err) {
					return fmt.Errorf("certificate rejected: %s", tlsErr.GetDetailedMessage())
				}
				return fmt.Errorf("%s", tlsErr.GetDetailedMessage())
			}
			printCertificateInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}

	cmd.Flags().StringVar(&certChain, "cert-chain", config.DefaultCertChainFile, "PEM certificate chain, leaf first")
	cmd.Flags().StringVar(&privateKey, "private-key", config.DefaultKeyFile, "PEM private key of the leaf certificate")
	return cmd
}

func printCertificateInfo(out io.Writer, info *enigmatls.CertificateInfo) {
	ips := make([]string, 0, len(info.IPAddresses))
	for _, ip := range info.IPAddresses {
		ips = append(ips, ip.String())
	}

	fmt.Fprintf(out, "Certificate is valid\n")
	fmt.Fprintf(out, "  Subject:      %s\n", info.Subject)
	fmt.Fprintf(out, "  Issuer:       %s\n", info.Issuer)
	fmt.Fprintf(out, "  Not Before:   %s\n", info.NotBefore.Format(time.RFC3339))
	fmt.Fprintf(out, "  Not After:    %s\n", info.NotAfter.Format(time.RFC3339))
	fmt.Fprintf(out, "  Chain Length: %d\n", info.ChainLength)
	fmt.Fprintf(out, "  DNS Names:    %s\n", strings.Join(info.DNSNames, ", "))
	fmt.Fprintf(out, "  IP Addresses: %s\n", strings.Join(ips, ", "))
	fmt.Fprintf(out, "  Status:       %s\n", enigmatls.StatusAt(info.NotAfter, time.Now()))
}
