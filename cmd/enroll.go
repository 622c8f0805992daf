package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/vigil/internal/types"
	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/spf13/cobra"
)

var enrollOpts Options

var enrollCmd = &cobra.Command{
	Use:         "enroll <label> <image_path>",
	Short:       "Add a known face from a photo",
	Long:        "Extracts the largest face in the photo and stores its encoding under label. A label may be enrolled from several photos.",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{requiresDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runEnroll(cmd.Context(), args[0], args[1], enrollOpts)
	},
}

func init() {
	addWorkerFlags(enrollCmd, &enrollOpts)
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(ctx context.Context, label, imagePath string, opts Options) error {
	face, err := extractLargestFace(ctx, imagePath, opts)
	if err != nil {
		return err
	}

	id, err := DB.CreateIdentity(ctx, label, face.Embedding)
	if err != nil {
		utils.ShowError("Failed to enroll face", err, nil)
		return err
	}
	fmt.Printf("✅ Enrolled %s (ID: %d)\n", label, id)
	return nil
}

// extractLargestFace runs a one-off extractor over a still image.
func extractLargestFace(ctx context.Context, imagePath string, opts Options) (types.DetectedFace, error) {
	if err := validateWorkerFlags(&opts); err != nil {
		utils.ShowError("Invalid flags", err, nil)
		return types.DetectedFace{}, err
	}

	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return types.DetectedFace{}, err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	// ID 0 for this ad-hoc worker
	w, err := startWorker(ctx, 0, opts)
	if err != nil {
		return types.DetectedFace{}, err
	}
	defer w.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	_, faces, err := w.ProcessFrame(imgData)
	if err != nil {
		utils.ShowError("AI processing failed", err, w.Cmd)
		return types.DetectedFace{}, err
	}

	face, ok := largestFace(faces)
	if !ok {
		return types.DetectedFace{}, fmt.Errorf("no faces detected in %s", imagePath)
	}
	if len(faces) > 1 {
		fmt.Fprintf(os.Stderr, "⚠️  Multiple faces detected (%d). Using the largest face.\n", len(faces))
	}
	return face, nil
}

// largestFace picks the detection with the biggest box. The first one wins ties.
func largestFace(faces []types.DetectedFace) (types.DetectedFace, bool) {
	if len(faces) == 0 {
		return types.DetectedFace{}, false
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Box.Area() > best.Box.Area() {
			best = f
		}
	}
	return best, true
}
