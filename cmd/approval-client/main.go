package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/procurehub/purchase-approval-backend/api"
	"github.com/procurehub/purchase-approval-backend/interfaces"
)

var ServerURLFlag = &cli.StringFlag{
	Name:  "server-url",
	Value: "http://127.0.0.1:8080",
	Usage: "base URL of the approval server",
}

var RequesterEmailFlag = &cli.StringFlag{
	Name:  "requester-email",
	Usage: "email identifying the requester",
}

var RequestIDFlag = &cli.StringFlag{
	Name:     "request-id",
	Required: true,
	Usage:    "purchase request id",
}

var ApproverTokenFlag = &cli.StringFlag{
	Name:     "approver-token",
	Required: true,
	Usage:    "approver access token from the approval link",
}

func main() {
	app := &cli.App{
		Name:  "approval-client",
		Usage: "Interact with the purchase approval API",
		Flags: []cli.Flag{ServerURLFlag},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a purchase request",
				Flags: []cli.Flag{
					RequesterEmailFlag,
					&cli.StringFlag{Name: "title", Required: true},
					&cli.StringFlag{Name: "description", Required: true},
					&cli.Float64Flag{Name: "amount", Required: true},
					&cli.StringSliceFlag{Name: "approver", Usage: "approver email, repeat three times"},
				},
				Action: func(cCtx *cli.Context) error {
					client := newClient(cCtx)
					req, err := client.CreateRequest(cCtx.Context, cCtx.String("requester-email"), api.CreateRequestBody{
						Title:          cCtx.String("title"),
						Description:    cCtx.String("description"),
						Amount:         cCtx.Float64("amount"),
						ApproverEmails: cCtx.StringSlice("approver"),
					})
					if err != nil {
						return err
					}
					return printJSON(req)
				},
			},
			{
				Name:  "list",
				Usage: "List the requester's purchase requests",
				Flags: []cli.Flag{RequesterEmailFlag},
				Action: func(cCtx *cli.Context) error {
					client := newClient(cCtx)
					reqs, err := client.ListRequests(cCtx.Context, cCtx.String("requester-email"))
					if err != nil {
						return err
					}
					return printJSON(reqs)
				},
			},
			{
				Name:  "get",
				Usage: "Show one request with its approver states",
				Flags: []cli.Flag{RequesterEmailFlag, RequestIDFlag},
				Action: func(cCtx *cli.Context) error {
					client := newClient(cCtx)
					id, err := interfaces.ParseRequestID(cCtx.String("request-id"))
					if err != nil {
						return err
					}
					detail, err := client.GetRequest(cCtx.Context, cCtx.String("requester-email"), id)
					if err != nil {
						return err
					}
					return printJSON(detail)
				},
			},
			{
				Name:  "approval-info",
				Usage: "Resolve an approval link (triggers OTP delivery while unverified)",
				Flags: []cli.Flag{RequestIDFlag, ApproverTokenFlag},
				Action: func(cCtx *cli.Context) error {
					client := newClient(cCtx)
					id, token, err := parseApproverArgs(cCtx)
					if err != nil {
						return err
					}
					info, err := client.GetApprovalInfo(cCtx.Context, id, token)
					if err != nil {
						return err
					}
					return printJSON(info)
				},
			},
			{
				Name:  "validate-otp",
				Usage: "Submit the one-time code",
				Flags: []cli.Flag{
					RequestIDFlag,
					ApproverTokenFlag,
					&cli.StringFlag{Name: "otp", Required: true, Usage: "6-digit code from the OTP mail"},
				},
				Action: func(cCtx *cli.Context) error {
					client := newClient(cCtx)
					id, token, err := parseApproverArgs(cCtx)
					if err != nil {
						return err
					}
					resp, err := client.ValidateOtp(cCtx.Context, id, token, cCtx.String("otp"))
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "approve",
				Usage: "Approve the request with a signature name",
				Flags: []cli.Flag{
					RequestIDFlag,
					ApproverTokenFlag,
					&cli.StringFlag{Name: "signature-name", Required: true},
				},
				Action: func(cCtx *cli.Context) error {
					client := newClient(cCtx)
					id, token, err := parseApproverArgs(cCtx)
					if err != nil {
						return err
					}
					resp, err := client.SubmitDecision(cCtx.Context, id, token, interfaces.DecisionApprove, cCtx.String("signature-name"))
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "reject",
				Usage: "Reject the request",
				Flags: []cli.Flag{RequestIDFlag, ApproverTokenFlag},
				Action: func(cCtx *cli.Context) error {
					client := newClient(cCtx)
					id, token, err := parseApproverArgs(cCtx)
					if err != nil {
						return err
					}
					resp, err := client.SubmitDecision(cCtx.Context, id, token, interfaces.DecisionReject, "")
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "pdf-generated",
				Usage: "Record the evidence document hand-off",
				Flags: []cli.Flag{
					RequestIDFlag,
					&cli.StringFlag{Name: "evidence-key", Required: true, Usage: "storage key of the generated PDF"},
				},
				Action: func(cCtx *cli.Context) error {
					client := newClient(cCtx)
					id, err := interfaces.ParseRequestID(cCtx.String("request-id"))
					if err != nil {
						return err
					}
					req, err := client.MarkPdfGenerated(cCtx.Context, id, cCtx.String("evidence-key"))
					if err != nil {
						return err
					}
					return printJSON(req)
				},
			},
			{
				Name:  "mock-mails",
				Usage: "List recorded outbound mails and approval links",
				Action: func(cCtx *cli.Context) error {
					client := newClient(cCtx)
					resp, err := client.MockMails(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "debug-otp",
				Usage: "Fetch the pending one-time code (server must run with --debug-api)",
				Flags: []cli.Flag{ApproverTokenFlag},
				Action: func(cCtx *cli.Context) error {
					client := newClient(cCtx)
					token, err := interfaces.ParseApproverToken(cCtx.String("approver-token"))
					if err != nil {
						return err
					}
					resp, err := client.DebugOtp(cCtx.Context, token)
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) *api.Client {
	return api.NewClient(cCtx.String(ServerURLFlag.Name))
}

func parseApproverArgs(cCtx *cli.Context) (interfaces.RequestID, interfaces.ApproverToken, error) {
	id, err := interfaces.ParseRequestID(cCtx.String("request-id"))
	if err != nil {
		return "", "", err
	}
	token, err := interfaces.ParseApproverToken(cCtx.String("approver-token"))
	if err != nil {
		return "", "", err
	}
	return id, token, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
