package main

import (
	"context"
	"fmt"
	"time"

	grpcx "github.com/telecare/signaling-service/internal/transport/grpc"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	censusAddr  string
	censusRoom  string
	censusToken string
)

var censusCmd = &cobra.Command{
	Use:   "census",
	Short: "Query live rooms over the census gRPC API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cc, err := grpc.NewClient(censusAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("dial %s: %w", censusAddr, err)
		}
		defer cc.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		if censusToken != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+censusToken)
		}

		client := grpcx.NewCensusClient(cc)
		var out *structpb.Struct
		if censusRoom != "" {
			out, err = client.GetRoom(ctx, censusRoom)
		} else {
			out, err = client.ListRooms(ctx)
		}
		if err != nil {
			return err
		}

		b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	},
}

func init() {
	censusCmd.Flags().StringVar(&censusAddr, "addr", "localhost:9090", "census gRPC address")
	censusCmd.Flags().StringVar(&censusRoom, "room", "", "room id (omit to list all rooms)")
	censusCmd.Flags().StringVar(&censusToken, "token", "", "bearer token when census.requireAuth is on")
}
