package sheets

import (
	"context"

	"google.golang.org/api/sheets/v4"
)

// Common parameter names.
const (
	ParamSpreadsheetID = "spreadsheetId"
	ParamRange         = "range"
	ParamRanges        = "ranges"
	ParamValues        = "values"
	ParamSheetID       = "sheetId"
	ParamDataFilters   = "dataFilters"
)

const (
	mustMatrix = "an array of arrays"
	mustArray  = "an array"
	mustList   = "an array of strings"
)

var (
	cellSchema = map[string]any{
		"type":  "array",
		"items": map[string]any{"type": []string{"string", "number", "boolean", "null"}},
	}
	dataFilterSchema = map[string]any{"type": "object", "description": "A DataFilter object."}

	valueInputOptions    = []string{"RAW", "USER_ENTERED", "INPUT_VALUE_OPTION_UNSPECIFIED"}
	majorDimensions      = []string{"ROWS", "COLUMNS"}
	valueRenderOptions   = []string{"FORMATTED_VALUE", "UNFORMATTED_VALUE", "FORMULA"}
	dateTimeRenderOption = []string{"SERIAL_NUMBER", "FORMATTED_STRING"}
)

func spreadsheetIDParam(desc string) Param {
	if desc == "" {
		desc = "The ID of the spreadsheet."
	}
	return Param{Name: ParamSpreadsheetID, Type: TypeString, Description: desc, Required: true}
}

func rangeParam(desc string) Param {
	return Param{Name: ParamRange, Type: TypeString, Description: desc, Required: true}
}

func valuesParam() Param {
	return Param{
		Name:        ParamValues,
		Type:        TypeArray,
		Description: "The new values to apply to the spreadsheet. This should be an array of arrays, where each inner array represents a row.",
		Required:    true,
		Items:       cellSchema,
		Must:        mustMatrix,
	}
}

func valueInputParam() Param {
	return Param{
		Name:        "valueInputOption",
		Type:        TypeString,
		Description: "How the input data should be interpreted (RAW, USER_ENTERED, INPUT_VALUE_OPTION_UNSPECIFIED).",
		Required:    true,
		Enum:        valueInputOptions,
	}
}

func dataFiltersParam() Param {
	return Param{
		Name:        ParamDataFilters,
		Type:        TypeArray,
		Description: "The data filters to apply. Each item in the array should be an object representing a DataFilter.",
		Required:    true,
		Items:       dataFilterSchema,
		Must:        mustArray,
	}
}

func majorDimensionParam() Param {
	return Param{Name: "majorDimension", Type: TypeString, Description: "The major dimension of the values (ROWS or COLUMNS).", Enum: majorDimensions}
}

func renderParams() []Param {
	return []Param{
		{Name: "valueRenderOption", Type: TypeString, Description: "How values should be represented in the output (FORMATTED_VALUE, UNFORMATTED_VALUE, FORMULA).", Enum: valueRenderOptions},
		{Name: "dateTimeRenderOption", Type: TypeString, Description: "How dates, times, and durations should be represented in the output (SERIAL_NUMBER, FORMATTED_STRING).", Enum: dateTimeRenderOption},
	}
}

func decodeValues(args Args) ([][]any, error) {
	var values [][]any
	if err := args.Decode(ParamValues, &values); err != nil {
		return nil, err
	}
	return values, nil
}

func decodeFilters(args Args) ([]*sheets.DataFilter, error) {
	var filters []*sheets.DataFilter
	if err := args.Decode(ParamDataFilters, &filters); err != nil {
		return nil, err
	}
	return filters, nil
}

var registry = []*Operation{
	{
		Name:        "createSpreadsheet",
		Description: "Creates a new Google Sheet spreadsheet.",
		Params: []Param{
			{
				Name:        "properties",
				Type:        TypeObject,
				Description: "Properties of the spreadsheet, such as title and locale.",
				Required:    true,
				Properties: map[string]any{
					"title":            map[string]any{"type": "string", "description": "The title of the spreadsheet."},
					"locale":           map[string]any{"type": "string", "description": "The locale of the spreadsheet (e.g., \"en_US\")."},
					"autoRecalc":       map[string]any{"type": "string", "description": "How formulas are recalculated (e.g., \"ON_CHANGE\")."},
					"timeZone":         map[string]any{"type": "string", "description": "The time zone of the spreadsheet (e.g., \"America/Los_Angeles\")."},
					"defaultFormat":    map[string]any{"type": "object", "description": "The default format of a cell in the spreadsheet."},
				},
			},
			{
				Name:        "sheets",
				Type:        TypeArray,
				Description: "Initial sheets to create within the spreadsheet.",
				Items:       map[string]any{"type": "object", "description": "A Sheet object with a properties field."},
			},
		},
		check: func(args Args) error {
			props, _ := args["properties"].(map[string]any)
			if title, _ := props["title"].(string); title == "" {
				return missing("properties.title")
			}
			return nil
		},
		run: func(ctx context.Context, svc *sheets.Service, args Args) (any, error) {
			ss := &sheets.Spreadsheet{}
			if err := args.Decode("properties", &ss.Properties); err != nil {
				return nil, err
			}
			if _, ok := args["sheets"]; ok {
				if err := args.Decode("sheets", &ss.Sheets); err != nil {
					return nil, err
				}
			}
			return svc.Spreadsheets.Create(ss).Context(ctx).Do()
		},
	},
	{
		Name:        "getSpreadsheetById",
		Description: "Returns the spreadsheet at the given ID.",
		ReadOnly:    true,
		Params: []Param{
			spreadsheetIDParam(""),
			{Name: ParamRanges, Type: TypeString, Description: "The ranges to retrieve, in A1 notation (comma-separated)."},
			{Name: "includeGridData", Type: TypeBoolean, Description: "True if grid data should be returned."},
		},
		run: func(ctx context.Context, svc *sheets.Service, args Args) (any, error) {
			call := svc.Spreadsheets.Get(args.String(ParamSpreadsheetID)).Context(ctx)
			if ranges := args.Strings(ParamRanges); len(ranges) > 0 {
				call = call.Ranges(ranges...)
			}
			if _, ok := args["includeGridData"]; ok {
				call = call.IncludeGridData(args.Bool("includeGridData"))
			}
			return call.Do()
		},
	},
	{
		Name:        "batchUpdateSpreadsheetById",
		Description: "Applies one or more updates to the spreadsheet.",
		Params: []Param{
			spreadsheetIDParam(""),
			{
				Name:        "requests",
				Type:        TypeArray,
				Description: "A list of requests to apply to the spreadsheet.",
				Required:    true,
				Items:       map[string]any{"type": "object", "description": "A single update request for the spreadsheet."},
				Must:        mustArray,
			},
		},
		run: func(ctx context.Context, svc *sheets.Service, args Args) (any, error) {
			req := &sheets.BatchUpdateSpreadsheetRequest{}
			if err := args.Decode("requests", &req.Requests); err != nil {
				return nil, err
			}
			return svc.Spreadsheets.BatchUpdate(args.String(ParamSpreadsheetID), req).Context(ctx).Do()
		},
	},
	{
		Name:        "getValuesFromRange",
		Description: "Returns a range of values from a spreadsheet.",
		ReadOnly:    true,
		Params: append([]Param{
			spreadsheetIDParam(""),
			rangeParam("The A1 notation of the range to retrieve."),
			majorDimensionParam(),
		}, renderParams()...),
		run: func(ctx context.Context, svc *sheets.Service, args Args) (any, error) {
			call := svc.Spreadsheets.Values.Get(args.String(ParamSpreadsheetID), args.String(ParamRange)).Context(ctx)
			if v := args.String("majorDimension"); v != "" {
				call = call.MajorDimension(v)
			}
			if v := args.String("valueRenderOption"); v != "" {
				call = call.ValueRenderOption(v)
			}
			if v := args.String("dateTimeRenderOption"); v != "" {
				call = call.DateTimeRenderOption(v)
			}
			return call.Do()
		},
	},
	{
		Name:        "batchGetValues",
		Description: "Returns one or more ranges of values from a spreadsheet.",
		ReadOnly:    true,
		Params: append([]Param{
			spreadsheetIDParam(""),
			{Name: ParamRanges, Type: TypeString, Description: "The A1 notation of the ranges to retrieve (comma-separated).", Required: true},
			majorDimensionParam(),
		}, renderParams()...),
		run: func(ctx context.Context, svc *sheets.Service, args Args) (any, error) {
			call := svc.Spreadsheets.Values.BatchGet(args.String(ParamSpreadsheetID)).
				Ranges(args.Strings(ParamRanges)...).
				Context(ctx)
			if v := args.String("majorDimension"); v != "" {
				call = call.MajorDimension(v)
			}
			if v := args.String("valueRenderOption"); v != "" {
				call = call.ValueRenderOption(v)
			}
			if v := args.String("dateTimeRenderOption"); v != "" {
				call = call.DateTimeRenderOption(v)
			}
			return call.Do()
		},
	},
	{
		Name:        "updateValuesInRange",
		Description: "Sets values in a range of a spreadsheet.",
		Params: []Param{
			spreadsheetIDParam(""),
			rangeParam("The A1 notation of the range to update."),
			valueInputParam(),
			valuesParam(),
		},
		run: func(ctx context.Context, svc *sheets.Service, args Args) (any, error) {
			values, err := decodeValues(args)
			if err != nil {
				return nil, err
			}
			return svc.Spreadsheets.Values.
				Update(args.String(ParamSpreadsheetID), args.String(ParamRange), &sheets.ValueRange{Values: values}).
				ValueInputOption(args.String("valueInputOption")).
				Context(ctx).
				Do()
		},
	},
	{
		Name:        "batchUpdateValues",
		Description: "Sets values in one or more ranges of a spreadsheet.",
		Params: []Param{
			spreadsheetIDParam(""),
			{
				Name:        "data",
				Type:        TypeArray,
				Description: "The new values to apply to the spreadsheet. Each item in the array should be an object containing \"range\" and \"values\".",
				Required:    true,
				Items: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"range":          map[string]any{"type": "string", "description": "The A1 notation of the range to update."},
						"majorDimension": map[string]any{"type": "string", "enum": majorDimensions},
						"values":         map[string]any{"type": "array", "items": cellSchema},
					},
					"required": []string{"range", "values"},
				},
				Must: mustArray,
			},
			valueInputParam(),
		},
		run: func(ctx context.Context, svc *sheets.Service, args Args) (any, error) {
			req := &sheets.BatchUpdateValuesRequest{ValueInputOption: args.String("valueInputOption")}
			if err := args.Decode("data", &req.Data); err != nil {
				return nil, err
			}
			return svc.Spreadsheets.Values.BatchUpdate(args.String(ParamSpreadsheetID), req).Context(ctx).Do()
		},
	},
	{
		Name:        "appendValuesToRange",
		Description: "Appends values to a spreadsheet.",
		Params: []Param{
			spreadsheetIDParam(""),
			rangeParam("The A1 notation of a range to search for a logical table of data."),
			valueInputParam(),
			{Name: "insertDataOption", Type: TypeString, Description: "How the input data should be inserted (OVERWRITE, INSERT_ROWS).", Enum: []string{"OVERWRITE", "INSERT_ROWS"}},
			valuesParam(),
		},
		run: func(ctx context.Context, svc *sheets.Service, args Args) (any, error) {
			values, err := decodeValues(args)
			if err != nil {
				return nil, err
			}
			call := svc.Spreadsheets.Values.
				Append(args.String(ParamSpreadsheetID), args.String(ParamRange), &sheets.ValueRange{Values: values}).
				ValueInputOption(args.String("valueInputOption")).
				Context(ctx)
			if v := args.String("insertDataOption"); v != "" {
				call = call.InsertDataOption(v)
			}
			return call.Do()
		},
	},
	{
		Name:        "clearValuesFromRange",
		Description: "Clears values from a spreadsheet.",
		Params: []Param{
			spreadsheetIDParam(""),
			rangeParam("The A1 notation of the values to clear."),
		},
		run: func(ctx context.Context, svc *sheets.Service, args Args) (any, error) {
			return svc.Spreadsheets.Values.
				Clear(args.String(ParamSpreadsheetID), args.String(ParamRange), &sheets.ClearValuesRequest{}).
				Context(ctx).
				Do()
		},
	},
	{
		Name:        "batchClearValues",
		Description: "Clears one or more ranges of values from a spreadsheet.",
		Params: []Param{
			spreadsheetIDParam(""),
			{Name: ParamRanges, Type: TypeArray, Description: "The A1 notation ranges to clear.", Required: true, Items: map[string]any{"type": "string"}, Must: mustList},
		},
		run: func(ctx context.Context, svc *sheets.Service, args Args) (any, error) {
			req := &sheets.BatchClearValuesRequest{Ranges: args.Strings(ParamRanges)}
			return svc.Spreadsheets.Values.BatchClear(args.String(ParamSpreadsheetID), req).Context(ctx).Do()
		},
	},
	{
		Name:        "getSpreadsheetByDataFilter",
		Description: "Returns the spreadsheet at the given ID, allowing selection of subsets using data filters.",
		ReadOnly:    true,
		Params: []Param{
			spreadsheetIDParam(""),
			dataFiltersParam(),
			{Name: "includeGridData", Type: TypeBoolean, Description: "True if grid data should be returned."},
		},
		run: func(ctx context.Context, svc *sheets.Service, args Args) (any, error) {
			filters, err := decodeFilters(args)
			if err != nil {
				return nil, err
			}
			req := &sheets.GetSpreadsheetByDataFilterRequest{
				DataFilters:     filters,
				IncludeGridData: args.Bool("includeGridData"),
			}
			return svc.Spreadsheets.GetByDataFilter(args.String(ParamSpreadsheetID), req).Context(ctx).Do()
		},
	},
	{
		Name:        "batchGetValuesByDataFilter",
		Description: "Returns one or more ranges of values that match the specified data filters.",
		ReadOnly:    true,
		Params: append([]Param{
			spreadsheetIDParam(""),
			dataFiltersParam(),
			majorDimensionParam(),
		}, renderParams()...),
		run: func(ctx context.Context, svc *sheets.Service, args Args) (any, error) {
			filters, err := decodeFilters(args)
			if err != nil {
				return nil, err
			}
			req := &sheets.BatchGetValuesByDataFilterRequest{
				DataFilters:          filters,
				MajorDimension:       args.String("majorDimension"),
				ValueRenderOption:    args.String("valueRenderOption"),
				DateTimeRenderOption: args.String("dateTimeRenderOption"),
			}
			return svc.Spreadsheets.Values.BatchGetByDataFilter(args.String(ParamSpreadsheetID), req).Context(ctx).Do()
		},
	},
	{
		Name:        "batchClearValuesByDataFilter",
		Description: "Clears one or more ranges of values from a spreadsheet using data filters.",
		Params: []Param{
			spreadsheetIDParam(""),
			dataFiltersParam(),
		},
		run: func(ctx context.Context, svc *sheets.Service, args Args) (any, error) {
			filters, err := decodeFilters(args)
			if err != nil {
				return nil, err
			}
			req := &sheets.BatchClearValuesByDataFilterRequest{DataFilters: filters}
			return svc.Spreadsheets.Values.BatchClearByDataFilter(args.String(ParamSpreadsheetID), req).Context(ctx).Do()
		},
	},
	{
		Name:        "copySheetToSpreadsheet",
		Description: "Copies a sheet from one spreadsheet to another.",
		Params: []Param{
			spreadsheetIDParam("The ID of the spreadsheet containing the sheet to copy."),
			{Name: ParamSheetID, Type: TypeString, Description: "The ID of the sheet to copy.", Required: true},
			{Name: "destinationSpreadsheetId", Type: TypeString, Description: "The ID of the spreadsheet to copy the sheet to.", Required: true},
		},
		check: func(args Args) error {
			if _, ok := args.Int64(ParamSheetID); !ok {
				return invalid(ParamSheetID, "an integer")
			}
			return nil
		},
		run: func(ctx context.Context, svc *sheets.Service, args Args) (any, error) {
			sheetID, _ := args.Int64(ParamSheetID)
			req := &sheets.CopySheetToAnotherSpreadsheetRequest{
				DestinationSpreadsheetId: args.String("destinationSpreadsheetId"),
			}
			return svc.Spreadsheets.Sheets.CopyTo(args.String(ParamSpreadsheetID), sheetID, req).Context(ctx).Do()
		},
	},
}
